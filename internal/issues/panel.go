package issues

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/climbclub/ticketdesk/pkg/db/models"
	"github.com/climbclub/ticketdesk/pkg/discord"
	"github.com/climbclub/ticketdesk/pkg/enums"
	"github.com/climbclub/ticketdesk/pkg/logger"
)

var controlLabels = map[Action]struct {
	label string
	style discordgo.ButtonStyle
}{
	ActionViewOrderDetails:   {"View Order Details", discordgo.PrimaryButton},
	ActionCancelOrder:        {"Cancel Order", discordgo.DangerButton},
	ActionMarkIssueProcessed: {"Mark Issue as Processed", discordgo.SuccessButton},
	ActionViewTickets:        {"View Tickets", discordgo.SecondaryButton},
	ActionMarkOrderProcessed: {"Mark Order as Processed", discordgo.SuccessButton},
	ActionFetchTickets:       {"Fetch Tickets", discordgo.PrimaryButton},
	ActionReleaseTickets:     {"Release Tickets", discordgo.DangerButton},
}

// Controls renders the buttons an alert panel shows for set.
func Controls(orderID string, set ActionSet) []discord.Button {
	actions := set.Actions()
	out := make([]discord.Button, 0, len(actions))
	for _, a := range actions {
		meta := controlLabels[a]
		out = append(out, discord.Button{
			CustomID: discord.CustomID(a.String(), orderID),
			Label:    meta.label,
			Style:    meta.style,
		})
	}
	return out
}

// PanelMessenger is the chat surface alert panels are posted on.
type PanelMessenger interface {
	PostAlert(ctx context.Context, channelID, text string, buttons []discord.Button) (string, error)
	EditPanel(ctx context.Context, channelID, messageID, text string, buttons []discord.Button) error
}

// Publisher keeps the operator alert of an issue in sync with its flags.
type Publisher struct {
	tracker   *Tracker
	messenger PanelMessenger
	channelID string
	logg      *logger.Logger
}

func NewPublisher(tracker *Tracker, messenger PanelMessenger, channelID string, logg *logger.Logger) *Publisher {
	if logg == nil {
		logg = logger.Nop()
	}
	return &Publisher{tracker: tracker, messenger: messenger, channelID: channelID, logg: logg}
}

// Publish posts the issue's panel, or rewrites it in place when one was
// already posted. Chat failures are logged and never returned: the issue row
// is the source of truth.
func (p *Publisher) Publish(ctx context.Context, issue *models.Issue) {
	if p == nil || issue == nil || p.messenger == nil {
		return
	}
	ctx = p.logg.WithOrderID(ctx, issue.OrderID)
	text := PanelText(issue)
	buttons := Controls(issue.OrderID, Actions(issue))

	if issue.PanelChannelID != nil && issue.PanelMessageID != nil {
		if err := p.messenger.EditPanel(ctx, *issue.PanelChannelID, *issue.PanelMessageID, text, buttons); err != nil {
			p.logg.Error(ctx, "refresh issue panel failed", err)
		}
		return
	}
	if p.channelID == "" {
		p.logg.Warn(ctx, "no operator channel configured for issue panels")
		return
	}

	messageID, err := p.messenger.PostAlert(ctx, p.channelID, text, buttons)
	if err != nil {
		p.logg.Error(ctx, "post issue panel failed", err)
		return
	}
	if err := p.tracker.SetPanel(ctx, issue.OrderID, p.channelID, messageID); err != nil {
		p.logg.Error(ctx, "remember issue panel failed", err)
		return
	}
	channelID := p.channelID
	issue.PanelChannelID = &channelID
	issue.PanelMessageID = &messageID
}

// Notify posts a plain operator alert without controls.
func (p *Publisher) Notify(ctx context.Context, text string) {
	if p == nil || p.messenger == nil || p.channelID == "" {
		return
	}
	if _, err := p.messenger.PostAlert(ctx, p.channelID, text, nil); err != nil {
		p.logg.Error(ctx, "post operator alert failed", err)
	}
}

// PanelText is the headline of an issue panel.
func PanelText(issue *models.Issue) string {
	state := "ouvert"
	if issue.Status == enums.IssueStatusClosed {
		state = "résolu"
	}
	return fmt.Sprintf("**Commande %s** (%s, %s)\n%s", issue.OrderID, state, issue.Reason, issue.Description)
}
