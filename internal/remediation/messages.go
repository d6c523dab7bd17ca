package remediation

import (
	"errors"
	"fmt"

	pkgerrors "github.com/climbclub/ticketdesk/pkg/errors"
)

// Describe renders err for the operator who triggered action on orderID.
func Describe(err error, orderID string) string {
	switch {
	case errors.Is(err, ErrIssueNotFound):
		return fmt.Sprintf("Aucune issue trouvée pour la commande %s.", orderID)
	case errors.Is(err, ErrTicketsAlreadyAssigned):
		return fmt.Sprintf("Les tickets pour la commande %s ont déjà été attribués.", orderID)
	case errors.Is(err, ErrTicketsStillAssigned):
		return fmt.Sprintf("La commande %s est associée à un ou plusieurs tickets. "+
			"Veuillez annuler les tickets associés avant de continuer.", orderID)
	case errors.Is(err, ErrNoAssociatedTickets):
		return fmt.Sprintf("La commande %s n'est associée à aucun ticket.", orderID)
	case errors.Is(err, ErrActionNotAllowed):
		return fmt.Sprintf("Cette action n'est plus disponible pour la commande %s.", orderID)
	}
	if typed := pkgerrors.As(err); typed != nil && pkgerrors.MetadataFor(typed.Code()).DetailsAllowed {
		return fmt.Sprintf("Une erreur s'est produite pour la commande %s : %s", orderID, typed.Message())
	}
	return fmt.Sprintf("Une erreur s'est produite pour la commande %s.", orderID)
}
