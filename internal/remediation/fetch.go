package remediation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/climbclub/ticketdesk/internal/fulfillment"
	"github.com/climbclub/ticketdesk/pkg/db/models"
	"github.com/climbclub/ticketdesk/pkg/discord"
	pkgerrors "github.com/climbclub/ticketdesk/pkg/errors"
	"github.com/climbclub/ticketdesk/pkg/helloasso"
)

// fetchTickets replays allocation for an order the pipeline gave up on. A
// single recipient gets the tickets directly; otherwise the operator receives
// the files and dispatches them by hand.
func (h *Handler) fetchTickets(ctx context.Context, issue *models.Issue) (*Outcome, error) {
	orderID := issue.OrderID
	order, err := h.snapshot(ctx, issue)
	if err != nil {
		h.logg.Error(ctx, "reload order failed", err)
		return &Outcome{
			Message: fmt.Sprintf("Aucune commande trouvée pour l'issue %s.", orderID),
			Issue:   issue,
		}, nil
	}

	plan, failure := h.pipeline.Validate(order, orderID)
	if failure != nil {
		return h.refuse(ctx, orderID, failure)
	}
	assignments, failure, err := h.pipeline.Allocate(ctx, orderID, plan)
	if err != nil {
		return nil, err
	}
	if failure != nil {
		return h.refuse(ctx, orderID, failure)
	}

	var all []models.Ticket
	for _, a := range assignments {
		all = append(all, a.Tickets...)
	}
	files, err := h.pipeline.FetchFiles(ctx, all)
	if err != nil {
		h.logg.Error(ctx, "fetch ticket files failed", err)
		refreshed, rErr := h.tracker.Refresh(ctx, orderID)
		if rErr != nil {
			return nil, rErr
		}
		h.panels.Publish(ctx, refreshed)
		return &Outcome{
			Message: fmt.Sprintf("Erreur lors de la récupération des fichiers de tickets pour la commande %s.", orderID),
			Issue:   refreshed,
		}, nil
	}

	if len(assignments) == 1 {
		out, err := h.deliverDirect(ctx, orderID, assignments[0].RecipientID, files)
		if out != nil || err != nil {
			return out, err
		}
	}

	refreshed, err := h.tracker.Refresh(ctx, orderID)
	if err != nil {
		return nil, err
	}
	h.panels.Publish(ctx, refreshed)
	return &Outcome{
		Message: fmt.Sprintf("Tickets pour la commande %s :", orderID),
		Files:   files,
		Issue:   refreshed,
	}, nil
}

// deliverDirect sends files to the order's only recipient and settles the
// issue. A nil outcome means delivery failed and the operator takes over.
func (h *Handler) deliverDirect(ctx context.Context, orderID, recipient string, files []discord.File) (*Outcome, error) {
	rctx := h.logg.WithRecipient(ctx, recipient)
	if err := h.pipeline.DeliverTo(rctx, orderID, recipient, files); err != nil {
		h.logg.Warn(h.logg.WithField(rctx, "error", err.Error()), "direct delivery failed, handing files to operator")
		return nil, nil
	}
	if _, err := h.ledger.MarkProcessed(ctx, orderID); err != nil {
		return nil, err
	}
	description := fmt.Sprintf("Les tickets de la commande %s ont été envoyés à <@%s>.", orderID, recipient)
	issue, err := h.tracker.Resolve(ctx, orderID, description)
	if err != nil {
		return nil, err
	}
	h.panels.Publish(ctx, issue)
	h.logg.Info(rctx, "tickets delivered by operator")
	return &Outcome{Message: description, Issue: issue}, nil
}

// snapshot decodes the stored order, fetching and storing it when missing.
func (h *Handler) snapshot(ctx context.Context, issue *models.Issue) (*helloasso.Order, error) {
	if len(issue.Order) > 0 && string(issue.Order) != "null" {
		var order helloasso.Order
		if err := json.Unmarshal(issue.Order, &order); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode order snapshot")
		}
		order.Raw = json.RawMessage(issue.Order)
		return &order, nil
	}

	order, err := h.gateway.GetOrder(ctx, issue.OrderID)
	if err != nil {
		return nil, err
	}
	if err := h.tracker.SetSnapshot(ctx, issue.OrderID, order.Raw); err != nil {
		return nil, err
	}
	return order, nil
}

// refuse records why the replay stopped; the new reason may retire the
// fetch button.
func (h *Handler) refuse(ctx context.Context, orderID string, failure *fulfillment.Failure) (*Outcome, error) {
	issue, err := h.tracker.SetReason(ctx, orderID, failure.Reason, failure.Description)
	if err != nil {
		return nil, err
	}
	h.panels.Publish(ctx, issue)
	h.logg.Warn(h.logg.WithField(ctx, "reason", failure.Reason.String()), "ticket fetch refused")
	return &Outcome{Message: failure.Description, Issue: issue}, nil
}
