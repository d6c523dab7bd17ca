package fulfillment

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/climbclub/ticketdesk/pkg/db/models"
	"github.com/climbclub/ticketdesk/pkg/discord"
)

const ticketContentType = "application/pdf"

type batch struct {
	Assignment
	files    []discord.File
	fetchErr error
}

// fetchAll downloads every assignment's files with bounded parallelism. A
// failed download only affects its own recipient.
func (s *Service) fetchAll(ctx context.Context, assignments []Assignment) []batch {
	out := make([]batch, len(assignments))
	var g errgroup.Group
	g.SetLimit(s.fetchParallel)
	for i := range assignments {
		i := i
		out[i].Assignment = assignments[i]
		g.Go(func() error {
			out[i].files, out[i].fetchErr = s.FetchFiles(ctx, assignments[i].Tickets)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// FetchFiles downloads the ticket files in order, named ticket_1.pdf onwards.
func (s *Service) FetchFiles(ctx context.Context, list []models.Ticket) ([]discord.File, error) {
	files := make([]discord.File, 0, len(list))
	for i, t := range list {
		data, err := s.content.Download(ctx, t.URL)
		if err != nil {
			return nil, err
		}
		files = append(files, discord.File{
			Name:        fmt.Sprintf("ticket_%d.pdf", i+1),
			ContentType: ticketContentType,
			Data:        data,
		})
	}
	return files, nil
}

// DeliverTo sends files to the recipient's direct messages.
func (s *Service) DeliverTo(ctx context.Context, orderID, recipientID string, files []discord.File) error {
	if err := s.messenger.EnsureMember(ctx, recipientID); err != nil {
		return err
	}
	channelID, err := s.messenger.CreateDirectChannel(ctx, recipientID)
	if err != nil {
		return err
	}
	return s.messenger.SendFiles(ctx, channelID, DeliveryMessage(orderID, len(files)), files)
}

func DeliveryMessage(orderID string, count int) string {
	if count == 1 {
		return fmt.Sprintf("Merci pour ton achat ! Voici ton ticket pour la commande %s.", orderID)
	}
	return fmt.Sprintf("Merci pour ton achat ! Voici tes %d tickets pour la commande %s.", count, orderID)
}
