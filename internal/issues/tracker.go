package issues

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/climbclub/ticketdesk/internal/orders"
	"github.com/climbclub/ticketdesk/pkg/db/models"
	"github.com/climbclub/ticketdesk/pkg/enums"
	pkgerrors "github.com/climbclub/ticketdesk/pkg/errors"
)

var ErrIssueNotFound = pkgerrors.New(pkgerrors.CodeNotFound, "issue not found")

// LedgerReader is the slice of the order ledger flags are derived from.
type LedgerReader interface {
	StateOf(ctx context.Context, orderID string) (orders.State, error)
}

// Tracker persists issues. Flags are never supplied by callers: every write
// recomputes them from the issue status and the current ledger state.
type Tracker struct {
	db     *gorm.DB
	ledger LedgerReader
	now    func() time.Time
}

func NewTracker(conn *gorm.DB, ledger LedgerReader) *Tracker {
	return &Tracker{
		db:     conn,
		ledger: ledger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// RaiseInput describes why an order needs an operator.
type RaiseInput struct {
	OrderID     string
	Description string
	Reason      enums.IssueReason
	// Order is the gateway's order JSON. Nil keeps any snapshot already stored.
	Order json.RawMessage
}

// Get loads the issue of orderID.
func (t *Tracker) Get(ctx context.Context, orderID string) (*models.Issue, error) {
	var issue models.Issue
	err := t.db.WithContext(ctx).Where("order_id = ?", strings.TrimSpace(orderID)).First(&issue).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrIssueNotFound
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "get issue")
	}
	return &issue, nil
}

func (t *Tracker) Exists(ctx context.Context, orderID string) (bool, error) {
	var n int64
	if err := t.db.WithContext(ctx).Model(&models.Issue{}).Where("order_id = ?", orderID).Count(&n).Error; err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check issue")
	}
	return n > 0, nil
}

// Raise opens (or reopens) the issue of an order. An existing issue is
// overwritten except for its creation time and panel message.
func (t *Tracker) Raise(ctx context.Context, in RaiseInput) (*models.Issue, error) {
	orderID := strings.TrimSpace(in.OrderID)
	if orderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if !in.Reason.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid issue reason")
	}

	st, err := t.ledger.StateOf(ctx, orderID)
	if err != nil {
		return nil, err
	}

	now := t.now()
	issue := models.Issue{
		OrderID:     orderID,
		Description: in.Description,
		Status:      enums.IssueStatusOpen,
		Reason:      in.Reason,
		Flags:       Capabilities(enums.IssueStatusOpen, st, in.Reason).Bits(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	overwrite := []string{"description", "status", "reason", "flags", "updated_at"}
	if len(in.Order) > 0 {
		issue.Order = datatypes.JSON(in.Order)
		overwrite = append(overwrite, "order_snapshot")
	}

	err = t.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}},
		DoUpdates: clause.AssignmentColumns(overwrite),
	}).Create(&issue).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "raise issue")
	}
	return t.Get(ctx, orderID)
}

// Close marks the issue handled.
func (t *Tracker) Close(ctx context.Context, orderID string) (*models.Issue, error) {
	return t.update(ctx, orderID, func(issue *models.Issue) {
		issue.Status = enums.IssueStatusClosed
	})
}

// Resolve closes the issue and records how it was settled.
func (t *Tracker) Resolve(ctx context.Context, orderID, description string) (*models.Issue, error) {
	return t.update(ctx, orderID, func(issue *models.Issue) {
		issue.Status = enums.IssueStatusClosed
		if description != "" {
			issue.Description = description
		}
	})
}

// Refresh recomputes flags after the ledger changed underneath the issue.
func (t *Tracker) Refresh(ctx context.Context, orderID string) (*models.Issue, error) {
	return t.update(ctx, orderID, func(*models.Issue) {})
}

// SetReason changes the recorded cause without reopening the issue.
func (t *Tracker) SetReason(ctx context.Context, orderID string, reason enums.IssueReason, description string) (*models.Issue, error) {
	if !reason.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid issue reason")
	}
	return t.update(ctx, orderID, func(issue *models.Issue) {
		issue.Reason = reason
		if description != "" {
			issue.Description = description
		}
	})
}

// SetSnapshot stores a freshly fetched gateway order.
func (t *Tracker) SetSnapshot(ctx context.Context, orderID string, raw json.RawMessage) error {
	return t.set(ctx, orderID, map[string]any{"order_snapshot": datatypes.JSON(raw)})
}

// SetPanel remembers the operator alert that carries this issue's buttons.
func (t *Tracker) SetPanel(ctx context.Context, orderID, channelID, messageID string) error {
	return t.set(ctx, orderID, map[string]any{
		"panel_channel_id": channelID,
		"panel_message_id": messageID,
	})
}

func (t *Tracker) set(ctx context.Context, orderID string, values map[string]any) error {
	values["updated_at"] = t.now()
	res := t.db.WithContext(ctx).Model(&models.Issue{}).Where("order_id = ?", orderID).Updates(values)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "update issue")
	}
	if res.RowsAffected == 0 {
		return ErrIssueNotFound
	}
	return nil
}

func (t *Tracker) update(ctx context.Context, orderID string, mutate func(*models.Issue)) (*models.Issue, error) {
	issue, err := t.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	st, err := t.ledger.StateOf(ctx, issue.OrderID)
	if err != nil {
		return nil, err
	}

	mutate(issue)
	issue.Flags = Capabilities(issue.Status, st, issue.Reason).Bits()
	issue.UpdatedAt = t.now()

	err = t.db.WithContext(ctx).Model(&models.Issue{}).
		Where("order_id = ?", issue.OrderID).
		Updates(map[string]any{
			"status":      issue.Status,
			"reason":      issue.Reason,
			"description": issue.Description,
			"flags":       issue.Flags,
			"updated_at":  issue.UpdatedAt,
		}).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update issue")
	}
	return issue, nil
}

// Actions decodes the persisted flags of issue.
func Actions(issue *models.Issue) ActionSet {
	if issue == nil {
		return ActionSet{}
	}
	set, err := FromBits(issue.Flags)
	if err != nil {
		return NewActionSet(ActionViewOrderDetails)
	}
	return set
}
