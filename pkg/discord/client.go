package discord

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/climbclub/ticketdesk/pkg/config"
	pkgerrors "github.com/climbclub/ticketdesk/pkg/errors"
)

// JSON error codes returned by the Discord REST API.
const (
	apiCodeUnknownMember  = 10007
	apiCodeUnknownUser    = 10013
	apiCodeCannotDMUser   = 50007
	apiCodeInvalidRequest = 50035

	maxMessageLength = 2000
)

var snowflakeRe = regexp.MustCompile(`^\d{17,19}$`)

// IsSnowflake reports whether id has the shape of a Discord user id.
func IsSnowflake(id string) bool {
	return snowflakeRe.MatchString(id)
}

// File is an attachment sent along a message.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Client is the bot-token REST surface used for ticket delivery and operator
// alerts. It never retries sends: a repeated post is a duplicate message.
type Client struct {
	session *discordgo.Session
	guildID string
}

// New builds a client authenticated with the bot token.
func New(cfg config.DiscordConfig) (*Client, error) {
	if strings.TrimSpace(cfg.BotToken) == "" {
		return nil, fmt.Errorf("discord bot token required")
	}
	session, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	return NewWithSession(session, cfg.GuildID), nil
}

// NewWithSession wraps an existing session.
func NewWithSession(session *discordgo.Session, guildID string) *Client {
	session.MaxRestRetries = 0
	session.ShouldRetryOnRateLimit = false
	return &Client{session: session, guildID: guildID}
}

// Session exposes the underlying session for interaction follow-ups.
func (c *Client) Session() *discordgo.Session {
	return c.session
}

// EnsureMember checks the recipient belongs to the configured guild. Without a
// configured guild every recipient passes.
func (c *Client) EnsureMember(ctx context.Context, recipientID string) error {
	if c.guildID == "" {
		return nil
	}
	if !IsSnowflake(recipientID) {
		return unreachable(recipientID, "malformed user id", nil)
	}
	if _, err := c.session.GuildMember(c.guildID, recipientID, discordgo.WithContext(ctx)); err != nil {
		if isAPICode(err, apiCodeUnknownMember, apiCodeUnknownUser) || isStatus(err, http.StatusNotFound) {
			return unreachable(recipientID, "not a member of the club server", err)
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup guild member")
	}
	return nil
}

// CreateDirectChannel opens (or reuses) the DM channel with recipientID.
func (c *Client) CreateDirectChannel(ctx context.Context, recipientID string) (string, error) {
	if !IsSnowflake(recipientID) {
		return "", unreachable(recipientID, "malformed user id", nil)
	}
	channel, err := c.session.UserChannelCreate(recipientID, discordgo.WithContext(ctx))
	if err != nil {
		if isAPICode(err, apiCodeUnknownUser, apiCodeCannotDMUser, apiCodeInvalidRequest) ||
			isStatus(err, http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound) {
			return "", unreachable(recipientID, "cannot open direct messages", err)
		}
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create dm channel")
	}
	return channel.ID, nil
}

// SendFiles posts message with files to channelID. Any failure is reported as
// a delivery failure carrying the reason.
func (c *Client) SendFiles(ctx context.Context, channelID, message string, files []File) error {
	_, err := c.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content: truncate(message),
		Files:   toDiscordFiles(files),
	}, discordgo.WithContext(ctx))
	if err != nil {
		reason := "send failed"
		if isAPICode(err, apiCodeCannotDMUser) {
			reason = "recipient does not accept direct messages"
		}
		return pkgerrors.Wrap(pkgerrors.CodeDelivery, err, reason)
	}
	return nil
}

// PostAlert posts an operator alert with optional action buttons and returns
// the message id.
func (c *Client) PostAlert(ctx context.Context, channelID, text string, buttons []Button) (string, error) {
	msg, err := c.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content:    truncate(text),
		Components: Rows(buttons),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "post alert")
	}
	return msg.ID, nil
}

// EditPanel rewrites the buttons of an existing alert in place. Empty text
// keeps the current content.
func (c *Client) EditPanel(ctx context.Context, channelID, messageID, text string, buttons []Button) error {
	edit := discordgo.NewMessageEdit(channelID, messageID)
	if text != "" {
		edit.SetContent(truncate(text))
	}
	components := Rows(buttons)
	edit.Components = &components
	if _, err := c.session.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx)); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "edit panel")
	}
	return nil
}

// EditInteractionReply replaces the deferred reply of interaction.
func (c *Client) EditInteractionReply(ctx context.Context, interaction *discordgo.Interaction, content string, files []File) error {
	content = truncate(content)
	edit := &discordgo.WebhookEdit{Content: &content}
	if len(files) > 0 {
		edit.Files = toDiscordFiles(files)
	}
	if _, err := c.session.InteractionResponseEdit(interaction, edit, discordgo.WithContext(ctx)); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "edit interaction reply")
	}
	return nil
}

func unreachable(recipientID, reason string, cause error) error {
	msg := fmt.Sprintf("recipient %s unreachable: %s", recipientID, reason)
	if cause == nil {
		return pkgerrors.New(pkgerrors.CodeUnreachable, msg)
	}
	return pkgerrors.Wrap(pkgerrors.CodeUnreachable, cause, msg)
}

func isAPICode(err error, codes ...int) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr.Message == nil {
		return false
	}
	for _, code := range codes {
		if restErr.Message.Code == code {
			return true
		}
	}
	return false
}

func isStatus(err error, statuses ...int) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr.Response == nil {
		return false
	}
	for _, status := range statuses {
		if restErr.Response.StatusCode == status {
			return true
		}
	}
	return false
}

func toDiscordFiles(files []File) []*discordgo.File {
	out := make([]*discordgo.File, 0, len(files))
	for _, f := range files {
		ct := f.ContentType
		if ct == "" {
			ct = http.DetectContentType(f.Data)
		}
		out = append(out, &discordgo.File{
			Name:        f.Name,
			ContentType: ct,
			Reader:      bytes.NewReader(f.Data),
		})
	}
	return out
}

func truncate(text string) string {
	runes := []rune(text)
	if len(runes) <= maxMessageLength {
		return text
	}
	return string(runes[:maxMessageLength-3]) + "..."
}
