package middleware

import (
	"net/http"
	"strings"

	"github.com/climbclub/ticketdesk/api/responses"
	pkgAuth "github.com/climbclub/ticketdesk/pkg/auth"
	"github.com/climbclub/ticketdesk/pkg/config"
	pkgerrors "github.com/climbclub/ticketdesk/pkg/errors"
	"github.com/climbclub/ticketdesk/pkg/logger"
)

// OperatorAuth validates an operator bearer token and seeds the request
// context with the operator id.
func OperatorAuth(cfg config.OperatorConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := strings.TrimSpace(r.Header.Get("Authorization"))
			if strings.HasPrefix(strings.ToLower(token), "bearer ") {
				token = strings.TrimSpace(token[7:])
			}
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseOperatorToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}

			ctx := WithOperatorID(r.Context(), claims.OperatorID())
			if logg != nil {
				ctx = logg.WithOperator(ctx, claims.OperatorID())
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
