package orders

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/climbclub/ticketdesk/pkg/db/models"
	"github.com/climbclub/ticketdesk/pkg/enums"
	pkgerrors "github.com/climbclub/ticketdesk/pkg/errors"
)

var ErrNoSuchOrder = pkgerrors.New(pkgerrors.CodeNotFound, "no order records for order")

// State summarises the records held by one order.
type State struct {
	Pending   int
	Processed int
	Cancelled int
}

// Active counts records that still hold their ticket.
func (s State) Active() int {
	return s.Pending + s.Processed
}

// Total counts every record ever written for the order.
func (s State) Total() int {
	return s.Pending + s.Processed + s.Cancelled
}

// Ledger reads and transitions order records. Records are only created by the
// ticket store's allocation and are never deleted.
type Ledger struct {
	db  *gorm.DB
	now func() time.Time
}

func NewLedger(conn *gorm.DB) *Ledger {
	return &Ledger{db: conn, now: func() time.Time { return time.Now().UTC() }}
}

// FindByOrder returns every record for orderID, oldest first.
func (l *Ledger) FindByOrder(ctx context.Context, orderID string) ([]models.OrderRecord, error) {
	var rows []models.OrderRecord
	err := l.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").Order("ticket_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find order records")
	}
	return rows, nil
}

// Exists reports whether any record, whatever its state, exists for orderID.
func (l *Ledger) Exists(ctx context.Context, orderID string) (bool, error) {
	var n int64
	if err := l.db.WithContext(ctx).Model(&models.OrderRecord{}).Where("order_id = ?", orderID).Count(&n).Error; err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check order records")
	}
	return n > 0, nil
}

// StateOf counts the order's records by state.
func (l *Ledger) StateOf(ctx context.Context, orderID string) (State, error) {
	type row struct {
		State enums.OrderState
		N     int
	}
	var rows []row
	err := l.db.WithContext(ctx).Model(&models.OrderRecord{}).
		Select("state, COUNT(*) AS n").
		Where("order_id = ?", orderID).
		Group("state").
		Scan(&rows).Error
	if err != nil {
		return State{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count order records")
	}

	var st State
	for _, r := range rows {
		switch r.State {
		case enums.OrderStatePending:
			st.Pending = r.N
		case enums.OrderStateProcessed:
			st.Processed = r.N
		case enums.OrderStateCancelled:
			st.Cancelled = r.N
		}
	}
	return st, nil
}

// MarkProcessed confirms every active record of orderID.
func (l *Ledger) MarkProcessed(ctx context.Context, orderID string) (int64, error) {
	return l.transition(ctx, orderID, []enums.OrderState{enums.OrderStatePending}, enums.OrderStateProcessed)
}

// MarkCancelled cancels every active record of orderID.
func (l *Ledger) MarkCancelled(ctx context.Context, orderID string) (int64, error) {
	return l.transition(ctx, orderID,
		[]enums.OrderState{enums.OrderStatePending, enums.OrderStateProcessed},
		enums.OrderStateCancelled,
	)
}

func (l *Ledger) transition(ctx context.Context, orderID string, from []enums.OrderState, to enums.OrderState) (int64, error) {
	orderID = strings.TrimSpace(orderID)
	exists, err := l.Exists(ctx, orderID)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, ErrNoSuchOrder
	}

	res := l.db.WithContext(ctx).Model(&models.OrderRecord{}).
		Where("order_id = ? AND state IN ?", orderID, from).
		Updates(map[string]any{"state": to, "updated_at": l.now()})
	if res.Error != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "transition order records")
	}
	return res.RowsAffected, nil
}

// MarkTicketsProcessed confirms individual PENDING tickets. Each ticket is
// independent, so callers may confirm recipients in any order.
func (l *Ledger) MarkTicketsProcessed(ctx context.Context, ticketIDs []uuid.UUID) (int64, error) {
	if len(ticketIDs) == 0 {
		return 0, nil
	}
	res := l.db.WithContext(ctx).Model(&models.OrderRecord{}).
		Where("ticket_id IN ? AND state = ?", ticketIDs, enums.OrderStatePending).
		Updates(map[string]any{"state": enums.OrderStateProcessed, "updated_at": l.now()})
	if res.Error != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "confirm tickets")
	}
	return res.RowsAffected, nil
}

// ListBetween returns records created in [from, to], oldest first.
func (l *Ledger) ListBetween(ctx context.Context, from, to time.Time) ([]models.OrderRecord, error) {
	if to.Before(from) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "range end is before range start")
	}
	var rows []models.OrderRecord
	err := l.db.WithContext(ctx).
		Where("created_at >= ? AND created_at <= ?", from.UTC(), to.UTC()).
		Order("created_at ASC").Order("order_id ASC").Order("ticket_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list order records")
	}
	return rows, nil
}

// TicketsForOrder returns the tickets linked to orderID. activeOnly drops
// tickets whose record was cancelled.
func (l *Ledger) TicketsForOrder(ctx context.Context, orderID string, activeOnly bool) ([]models.Ticket, error) {
	query := l.db.WithContext(ctx).
		Model(&models.Ticket{}).
		Joins("JOIN order_records ON order_records.ticket_id = tickets.id").
		Where("order_records.order_id = ?", orderID)
	if activeOnly {
		query = query.Where("order_records.state <> ?", enums.OrderStateCancelled)
	}

	var tickets []models.Ticket
	if err := query.Order("order_records.created_at ASC").Order("tickets.id ASC").Find(&tickets).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order tickets")
	}
	return tickets, nil
}
