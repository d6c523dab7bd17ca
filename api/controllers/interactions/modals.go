package interactions

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/climbclub/ticketdesk/internal/issues"
	"github.com/climbclub/ticketdesk/pkg/discord"
)

var confirmTitles = map[issues.Action]string{
	issues.ActionCancelOrder:        "Confirmer l'annulation de la commande %s ?",
	issues.ActionMarkOrderProcessed: "Confirmer le traitement de la commande %s ?",
	issues.ActionMarkIssueProcessed: "Clore l'issue de la commande %s ?",
	issues.ActionReleaseTickets:     "Remettre en vente les tickets de %s ?",
}

func confirmationModal(action issues.Action, orderID string) *discordgo.InteractionResponse {
	title, ok := confirmTitles[action]
	if !ok {
		title = "Confirmer l'action sur la commande %s ?"
	}
	return discord.Modal(
		confirmPrefix+discord.CustomID(action.String(), orderID),
		fmt.Sprintf(title, orderID),
		discord.TextField{
			CustomID:    confirmField,
			Label:       `Écrivez "CONFIRMER" pour valider`,
			Placeholder: confirmWord,
			Length:      len(confirmWord),
		},
	)
}

func exportModal() *discordgo.InteractionResponse {
	return discord.Modal(exportModalID, "Export des commandes",
		discord.TextField{CustomID: startDateField, Label: "Date de début (JJ-MM-AAAA)", Placeholder: "JJ-MM-AAAA", Length: 10},
		discord.TextField{CustomID: endDateField, Label: "Date de fin (JJ-MM-AAAA)", Placeholder: "JJ-MM-AAAA", Length: 10},
	)
}
