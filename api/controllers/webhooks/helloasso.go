package webhooks

import (
	"context"
	"net/http"

	"github.com/climbclub/ticketdesk/api/responses"
	"github.com/climbclub/ticketdesk/api/validators"
	helloassowebhook "github.com/climbclub/ticketdesk/internal/webhooks/helloasso"
	pkgerrors "github.com/climbclub/ticketdesk/pkg/errors"
	"github.com/climbclub/ticketdesk/pkg/helloasso"
	"github.com/climbclub/ticketdesk/pkg/logger"
)

// webhookAck is the body of every 200 answer. The gateway only reads the
// status code; per-event detail goes to the logs.
var webhookAck = struct {
	Message string `json:"message"`
}{Message: "ok !"}

type HelloAssoWebhookService interface {
	HandleEvent(ctx context.Context, event *helloasso.Event) (*helloassowebhook.Ack, error)
}

// HelloAssoWebhook receives payment notifications. Skipped and replayed
// events are acknowledged with 200 so the gateway stops retrying them.
func HelloAssoWebhook(svc HelloAssoWebhookService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		var event helloasso.Event
		if err := validators.DecodeJSONPayload(r, &event); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		ack, err := svc.HandleEvent(ctx, &event)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			logg.Info(logg.WithFields(ctx, map[string]any{
				"event_type": string(event.EventType),
				"ack_status": string(ack.Status),
				"order_id":   ack.OrderID,
				"outcome":    string(ack.Outcome),
			}), "helloasso event handled")
		}
		responses.WriteJSON(w, http.StatusOK, webhookAck)
	}
}
