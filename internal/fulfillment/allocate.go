package fulfillment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/climbclub/ticketdesk/internal/tickets"
	"github.com/climbclub/ticketdesk/pkg/db/models"
	"github.com/climbclub/ticketdesk/pkg/enums"
)

// Assignment is the slice of allocated tickets owed to one recipient.
type Assignment struct {
	RecipientID string
	Tickets     []models.Ticket
}

// Allocate reserves plan.Total unsold tickets for the order in one batch and
// splits them across the plan's shares. Inventory problems come back as a
// Failure; the returned error is reserved for storage faults.
func (s *Service) Allocate(ctx context.Context, orderID string, plan *Plan) ([]Assignment, *Failure, error) {
	batch, err := s.inventory.ListUnsold(ctx, plan.Total)
	if errors.Is(err, tickets.ErrInsufficientInventory) {
		return nil, &Failure{
			Reason:      enums.IssueReasonInsufficientInventory,
			Description: fmt.Sprintf("Pas assez de tickets disponibles pour la commande %s : %d demandés.", orderID, plan.Total),
		}, nil
	}
	if err != nil {
		return nil, nil, err
	}

	ids := make([]uuid.UUID, 0, len(batch))
	for _, t := range batch {
		ids = append(ids, t.ID)
	}
	if _, err := s.inventory.AllocateMany(ctx, orderID, ids); err != nil {
		if errors.Is(err, tickets.ErrAlreadySold) || errors.Is(err, tickets.ErrNotFound) {
			return nil, &Failure{
				Reason:      enums.IssueReasonAllocationConflict,
				Description: fmt.Sprintf("Les tickets choisis pour la commande %s ont été vendus entre-temps.", orderID),
			}, nil
		}
		return nil, nil, err
	}
	s.metrics.AddAllocated(len(batch))

	out := make([]Assignment, 0, len(plan.Shares))
	offset := 0
	for _, share := range plan.Shares {
		out = append(out, Assignment{
			RecipientID: share.RecipientID,
			Tickets:     batch[offset : offset+share.Count],
		})
		offset += share.Count
	}
	return out, nil, nil
}
