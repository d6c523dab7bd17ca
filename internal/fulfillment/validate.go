package fulfillment

import (
	"fmt"

	"github.com/climbclub/ticketdesk/pkg/discord"
	"github.com/climbclub/ticketdesk/pkg/enums"
	"github.com/climbclub/ticketdesk/pkg/helloasso"
)

// Failure is a halting condition that needs an operator.
type Failure struct {
	Reason      enums.IssueReason
	Description string
}

// Share is how many tickets one recipient is owed.
type Share struct {
	RecipientID string
	Count       int
}

// Plan is a validated order: shares in first-seen recipient order.
type Plan struct {
	OrderID string
	Shares  []Share
	Total   int
}

// Validate checks the order against what the pipeline can deliver and groups
// its items by recipient.
func (s *Service) Validate(order *helloasso.Order, orderID string) (*Plan, *Failure) {
	if order == nil || order.IDString() != orderID {
		return nil, &Failure{
			Reason:      enums.IssueReasonOrderMismatch,
			Description: fmt.Sprintf("La commande renvoyée par HelloAsso ne correspond pas à la commande %s.", orderID),
		}
	}
	if len(order.Items) == 0 {
		return nil, &Failure{
			Reason:      enums.IssueReasonOrderMismatch,
			Description: fmt.Sprintf("La commande %s ne contient aucun article.", orderID),
		}
	}
	if len(order.Items) > s.maxItems {
		return nil, &Failure{
			Reason: enums.IssueReasonTooManyItems,
			Description: fmt.Sprintf("La commande %s contient %d articles, le maximum est %d.",
				orderID, len(order.Items), s.maxItems),
		}
	}

	plan := &Plan{OrderID: orderID}
	index := make(map[string]int)
	for i, item := range order.Items {
		recipient, _ := item.RecipientField(s.recipientField)
		if !discord.IsSnowflake(recipient) {
			return nil, &Failure{
				Reason: enums.IssueReasonInvalidRecipient,
				Description: fmt.Sprintf("L'article %d de la commande %s n'a pas d'identifiant Discord valide (%q).",
					i+1, orderID, recipient),
			}
		}
		if pos, ok := index[recipient]; ok {
			plan.Shares[pos].Count++
		} else {
			index[recipient] = len(plan.Shares)
			plan.Shares = append(plan.Shares, Share{RecipientID: recipient, Count: 1})
		}
		plan.Total++
	}
	return plan, nil
}
