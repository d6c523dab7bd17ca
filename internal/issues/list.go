package issues

import (
	"context"

	"github.com/climbclub/ticketdesk/pkg/db/models"
	"github.com/climbclub/ticketdesk/pkg/enums"
	pkgerrors "github.com/climbclub/ticketdesk/pkg/errors"
	"github.com/climbclub/ticketdesk/pkg/pagination"
)

// ListParams filters the issue listing. A nil Status lists every issue.
type ListParams struct {
	pagination.Params
	Status *enums.IssueStatus
}

// ListResult is one page of issues, newest first.
type ListResult struct {
	Issues     []models.Issue
	NextCursor string
}

// List pages through issues ordered by (created_at, order_id) descending.
func (t *Tracker) List(ctx context.Context, params ListParams) (*ListResult, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	limit := pagination.NormalizeLimit(params.Limit)
	query := t.db.WithContext(ctx).Model(&models.Issue{})
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if cursor != nil {
		at := cursor.CreatedAt.UTC()
		query = query.Where("(created_at < ?) OR (created_at = ? AND order_id < ?)", at, at, cursor.ID)
	}

	var rows []models.Issue
	if err := query.Order("created_at DESC").Order("order_id DESC").Limit(pagination.LimitWithBuffer(limit)).Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list issues")
	}

	page, next := pagination.Trim(rows, limit, func(issue models.Issue) pagination.Cursor {
		return pagination.Cursor{CreatedAt: issue.CreatedAt, ID: issue.OrderID}
	})
	return &ListResult{Issues: page, NextCursor: next}, nil
}
