package tickets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/climbclub/ticketdesk/pkg/db"
	"github.com/climbclub/ticketdesk/pkg/db/models"
	"github.com/climbclub/ticketdesk/pkg/enums"
	pkgerrors "github.com/climbclub/ticketdesk/pkg/errors"
)

const defaultPageSize = 100

var (
	ErrNotFound              = pkgerrors.New(pkgerrors.CodeNotFound, "ticket not found")
	ErrAlreadySold           = pkgerrors.New(pkgerrors.CodeConflict, "ticket already sold")
	ErrInsufficientInventory = pkgerrors.New(pkgerrors.CodeConflict, "insufficient unsold tickets")
)

// Store owns the ticket lifecycle. Every write that touches the sold flag also
// writes the matching order record inside the same transaction.
type Store struct {
	db         *gorm.DB
	pageSize   int
	now        func() time.Time
	registerMu sync.Mutex
}

// NewStore builds a ticket store on top of the shared connection.
func NewStore(conn *gorm.DB) *Store {
	return &Store{
		db:       conn,
		pageSize: defaultPageSize,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ListUnsold returns exactly count unsold tickets in (created_at, id) order,
// walking the unsold index page by page. Fewer than count available fails with
// ErrInsufficientInventory and returns nothing.
func (s *Store) ListUnsold(ctx context.Context, count int) ([]models.Ticket, error) {
	if count <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "ticket count must be positive")
	}

	out := make([]models.Ticket, 0, count)
	var last *models.Ticket
	for len(out) < count {
		limit := s.pageSize
		if remaining := count - len(out); remaining < limit {
			limit = remaining
		}

		query := s.db.WithContext(ctx).Model(&models.Ticket{}).Where("sold = ?", false)
		if last != nil {
			query = query.Where("(created_at > ?) OR (created_at = ? AND id > ?)", last.CreatedAt, last.CreatedAt, last.ID)
		}

		var page []models.Ticket
		if err := query.Order("created_at ASC").Order("id ASC").Limit(limit).Find(&page).Error; err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list unsold tickets")
		}
		out = append(out, page...)
		if len(page) < limit {
			break
		}
		last = &page[len(page)-1]
	}

	if len(out) < count {
		return nil, pkgerrors.Wrap(
			pkgerrors.CodeConflict,
			ErrInsufficientInventory,
			fmt.Sprintf("need %d tickets, %d unsold", count, len(out)),
		)
	}
	return out, nil
}

// GetTicket loads a ticket by id.
func (s *Store) GetTicket(ctx context.Context, id uuid.UUID) (*models.Ticket, error) {
	var ticket models.Ticket
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&ticket).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "get ticket")
	}
	return &ticket, nil
}

// Allocate flips one ticket to sold and records it as PENDING for orderID.
// Both writes commit together or not at all.
func (s *Store) Allocate(ctx context.Context, orderID string, ticketID uuid.UUID) (*models.OrderRecord, error) {
	records, err := s.AllocateMany(ctx, orderID, []uuid.UUID{ticketID})
	if err != nil {
		return nil, err
	}
	return &records[0], nil
}

// AllocateMany allocates every ticket in ticketIDs to orderID in one
// transaction. Any ticket already sold aborts the whole batch.
func (s *Store) AllocateMany(ctx context.Context, orderID string, ticketIDs []uuid.UUID) ([]models.OrderRecord, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if len(ticketIDs) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "no tickets to allocate")
	}

	records := make([]models.OrderRecord, 0, len(ticketIDs))
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now()
		for _, ticketID := range ticketIDs {
			res := tx.Model(&models.Ticket{}).
				Where("id = ? AND sold = ?", ticketID, false).
				Updates(map[string]any{"sold": true, "updated_at": now})
			if res.Error != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "flip sold flag")
			}
			if res.RowsAffected == 0 {
				return s.missingOrSold(tx, ticketID)
			}

			record := models.OrderRecord{
				TicketID:  ticketID,
				OrderID:   orderID,
				State:     enums.OrderStatePending,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := tx.Create(&record).Error; err != nil {
				if db.IsUniqueViolation(err, "") {
					return ErrAlreadySold
				}
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order record")
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Store) missingOrSold(tx *gorm.DB, ticketID uuid.UUID) error {
	var count int64
	if err := tx.Model(&models.Ticket{}).Where("id = ?", ticketID).Count(&count).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check ticket")
	}
	if count == 0 {
		return ErrNotFound
	}
	return ErrAlreadySold
}

// AddTicket registers an uploaded ticket file. Re-registering the same object
// key returns the existing row with created=false.
//
// URLs are not unique in the table (released tickets are restocked as copies),
// so the lookup and insert run under a lock on the URL: an in-process mutex,
// plus a transaction-scoped advisory lock on postgres for other ingesters.
func (s *Store) AddTicket(ctx context.Context, url string) (*models.Ticket, bool, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "ticket url is required")
	}

	s.registerMu.Lock()
	defer s.registerMu.Unlock()

	var (
		ticket  models.Ticket
		created bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if tx.Dialector.Name() == "postgres" {
			if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtextextended(?, 0))", url).Error; err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock ticket url")
			}
		}

		err := tx.Where("url = ?", url).Order("created_at ASC").First(&ticket).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup ticket by url")
		}

		ticket = models.Ticket{URL: url, CreatedAt: s.now()}
		if err := tx.Create(&ticket).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create ticket")
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &ticket, created, nil
}

// Release cancels the PENDING records of orderID and puts fresh unsold copies
// of their tickets back into inventory. The original tickets stay sold, so
// every sold ticket keeps exactly one order record.
func (s *Store) Release(ctx context.Context, orderID string) ([]models.Ticket, error) {
	var restocked []models.Ticket
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pending []models.OrderRecord
		if err := tx.Where("order_id = ? AND state = ?", orderID, enums.OrderStatePending).
			Order("created_at ASC").Find(&pending).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pending records")
		}
		if len(pending) == 0 {
			return nil
		}

		ids := make([]uuid.UUID, 0, len(pending))
		for _, rec := range pending {
			ids = append(ids, rec.TicketID)
		}

		now := s.now()
		if err := tx.Model(&models.OrderRecord{}).
			Where("ticket_id IN ? AND state = ?", ids, enums.OrderStatePending).
			Updates(map[string]any{"state": enums.OrderStateCancelled, "updated_at": now}).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel pending records")
		}

		var originals []models.Ticket
		if err := tx.Where("id IN ?", ids).Order("created_at ASC").Find(&originals).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load released tickets")
		}
		for _, original := range originals {
			fresh := models.Ticket{URL: original.URL, CreatedAt: now}
			if err := tx.Create(&fresh).Error; err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "restock ticket")
			}
			restocked = append(restocked, fresh)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return restocked, nil
}

// CountSold returns how many tickets have been allocated.
func (s *Store) CountSold(ctx context.Context) (int64, error) {
	return s.count(ctx, true)
}

// CountUnsold returns the remaining inventory.
func (s *Store) CountUnsold(ctx context.Context) (int64, error) {
	return s.count(ctx, false)
}

func (s *Store) count(ctx context.Context, sold bool) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.Ticket{}).Where("sold = ?", sold).Count(&n).Error; err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count tickets")
	}
	return n, nil
}
