package issues

import (
	"context"
	"net/http"
	"time"

	"github.com/climbclub/ticketdesk/api/responses"
	"github.com/climbclub/ticketdesk/api/validators"
	internalissues "github.com/climbclub/ticketdesk/internal/issues"
	"github.com/climbclub/ticketdesk/pkg/db/models"
	"github.com/climbclub/ticketdesk/pkg/enums"
	pkgerrors "github.com/climbclub/ticketdesk/pkg/errors"
	"github.com/climbclub/ticketdesk/pkg/logger"
	"github.com/climbclub/ticketdesk/pkg/pagination"
)

type Lister interface {
	List(ctx context.Context, params internalissues.ListParams) (*internalissues.ListResult, error)
}

type IssueDTO struct {
	OrderID     string    `json:"order_id"`
	Status      string    `json:"status"`
	Reason      string    `json:"reason"`
	Description string    `json:"description"`
	Actions     []string  `json:"actions"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type ListResponse struct {
	Issues     []IssueDTO `json:"issues"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

// List pages through issues, newest first. status=all disables the filter.
func List(svc Lister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "issue tracker unavailable"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params := internalissues.ListParams{
			Params: pagination.Params{Limit: limit, Cursor: validators.QueryString(r, "cursor")},
		}

		switch raw := validators.QueryString(r, "status"); raw {
		case "all":
		case "":
			open := enums.IssueStatusOpen
			params.Status = &open
		default:
			status, err := enums.ParseIssueStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status").
					WithDetails(map[string]any{"field": "status"}))
				return
			}
			params.Status = &status
		}

		page, err := svc.List(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := ListResponse{Issues: make([]IssueDTO, 0, len(page.Issues)), NextCursor: page.NextCursor}
		for i := range page.Issues {
			out.Issues = append(out.Issues, toDTO(&page.Issues[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

func toDTO(issue *models.Issue) IssueDTO {
	actions := internalissues.Actions(issue).Actions()
	names := make([]string, 0, len(actions))
	for _, a := range actions {
		names = append(names, a.String())
	}
	return IssueDTO{
		OrderID:     issue.OrderID,
		Status:      issue.Status.String(),
		Reason:      string(issue.Reason),
		Description: issue.Description,
		Actions:     names,
		CreatedAt:   issue.CreatedAt,
		UpdatedAt:   issue.UpdatedAt,
	}
}
