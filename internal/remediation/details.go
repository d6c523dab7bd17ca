package remediation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/climbclub/ticketdesk/pkg/db/models"
	"github.com/climbclub/ticketdesk/pkg/enums"
	"github.com/climbclub/ticketdesk/pkg/helloasso"
	"github.com/climbclub/ticketdesk/pkg/locale"
)

const maxListedItems = 5

func (h *Handler) details(issue *models.Issue) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Détails de la commande %s**\n", issue.OrderID)
	description := issue.Description
	if description == "" {
		description = "Aucun détail disponible."
	}
	b.WriteString(description + "\n\n")
	fmt.Fprintf(&b, "**Statut** : %s (%s)\n", statusLabel(issue.Status), issue.Reason)
	fmt.Fprintf(&b, "**Date de création** : %s\n", locale.LongDate(issue.CreatedAt, h.loc))
	fmt.Fprintf(&b, "**Date de mise à jour** : %s\n", locale.LongDate(issue.UpdatedAt, h.loc))

	if len(issue.Order) == 0 || string(issue.Order) == "null" {
		return b.String()
	}
	var order helloasso.Order
	if err := json.Unmarshal(issue.Order, &order); err != nil {
		return b.String()
	}

	b.WriteString("\n**Détails de la commande**\n")
	fmt.Fprintf(&b, "**Id** : %d\n", order.ID)
	fmt.Fprintf(&b, "**Montant** : %s\n", order.Amount.Display())
	if !order.Date.IsZero() {
		fmt.Fprintf(&b, "**Date** : %s\n", locale.Date(order.Date, h.loc))
	}
	fmt.Fprintf(&b, "**Nom** : %s\n", order.Payer.FullName())
	fmt.Fprintf(&b, "**Email** : %s\n", order.Payer.Email)
	b.WriteString("**Achats** :")
	for i, item := range order.Items {
		if i == maxListedItems {
			b.WriteString("\n - ...")
			break
		}
		fields := make([]string, 0, len(item.CustomFields))
		for _, f := range item.CustomFields {
			fields = append(fields, f.Name+" "+f.Answer)
		}
		fmt.Fprintf(&b, "\n - %s (%s)", item.Name, strings.Join(fields, ", "))
	}
	return b.String()
}

func statusLabel(status enums.IssueStatus) string {
	if status == enums.IssueStatusClosed {
		return "résolu"
	}
	return "ouvert"
}
