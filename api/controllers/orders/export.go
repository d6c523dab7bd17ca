package orders

import (
	"context"
	"net/http"

	"github.com/climbclub/ticketdesk/api/middleware"
	"github.com/climbclub/ticketdesk/api/responses"
	"github.com/climbclub/ticketdesk/api/validators"
	"github.com/climbclub/ticketdesk/internal/reports"
	pkgerrors "github.com/climbclub/ticketdesk/pkg/errors"
	"github.com/climbclub/ticketdesk/pkg/logger"
)

type Exporter interface {
	Export(ctx context.Context, from, to string) (*reports.Export, error)
}

// Export downloads the order records of from..to (DD-MM-YYYY, inclusive) as
// CSV. An empty range answers 204.
func Export(svc Exporter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order exporter unavailable"))
			return
		}

		from, to := validators.QueryString(r, "from"), validators.QueryString(r, "to")
		if from == "" || to == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "from and to are required").
				WithDetails(map[string]any{"format": "DD-MM-YYYY"}))
			return
		}

		exp, err := svc.Export(r.Context(), from, to)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if exp.Rows == 0 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if logg != nil {
			ctx := logg.WithFields(r.Context(), map[string]any{
				"operator_id": middleware.OperatorIDFromContext(r.Context()),
				"rows":        exp.Rows,
			})
			logg.Info(ctx, "orders.exported")
		}
		file := exp.File()
		responses.WriteFile(w, file.Name, file.ContentType, file.Data)
	}
}
