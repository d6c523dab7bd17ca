package discord

import (
	"strings"

	"github.com/bwmarrin/discordgo"
)

const (
	maxButtonsPerRow = 5
	maxModalTitle    = 45
	customIDSep      = "="
)

// Button is one operator control on an alert. A zero Style renders as a
// secondary button.
type Button struct {
	CustomID string
	Label    string
	Style    discordgo.ButtonStyle
}

// CustomID builds "<action>=<orderId>".
func CustomID(action, orderID string) string {
	if orderID == "" {
		return action
	}
	return action + customIDSep + orderID
}

// ParseCustomID splits a custom id built by CustomID.
func ParseCustomID(customID string) (action, orderID string) {
	action, orderID, _ = strings.Cut(customID, customIDSep)
	return action, orderID
}

// Rows lays buttons out in action rows of at most five.
func Rows(buttons []Button) []discordgo.MessageComponent {
	rows := []discordgo.MessageComponent{}
	for start := 0; start < len(buttons); start += maxButtonsPerRow {
		end := start + maxButtonsPerRow
		if end > len(buttons) {
			end = len(buttons)
		}
		row := discordgo.ActionsRow{}
		for _, b := range buttons[start:end] {
			style := b.Style
			if style == 0 {
				style = discordgo.SecondaryButton
			}
			row.Components = append(row.Components, discordgo.Button{
				Label:    b.Label,
				Style:    style,
				CustomID: b.CustomID,
			})
		}
		rows = append(rows, row)
	}
	return rows
}

// TextField is a single-line input in a modal.
type TextField struct {
	CustomID    string
	Label       string
	Placeholder string
	Length      int
}

// Modal builds a modal response with one row per field.
func Modal(customID, title string, fields ...TextField) *discordgo.InteractionResponse {
	rows := make([]discordgo.MessageComponent, 0, len(fields))
	for _, f := range fields {
		input := discordgo.TextInput{
			CustomID:    f.CustomID,
			Label:       f.Label,
			Style:       discordgo.TextInputShort,
			Placeholder: f.Placeholder,
			Required:    true,
		}
		if f.Length > 0 {
			input.MinLength = f.Length
			input.MaxLength = f.Length
		}
		rows = append(rows, discordgo.ActionsRow{Components: []discordgo.MessageComponent{input}})
	}
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID:   customID,
			Title:      clip(title, maxModalTitle),
			Components: rows,
		},
	}
}

// ModalValues flattens submitted modal inputs into custom id -> value.
func ModalValues(data discordgo.ModalSubmitInteractionData) map[string]string {
	out := map[string]string{}
	for _, c := range data.Components {
		row, ok := c.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, inner := range row.Components {
			if input, ok := inner.(*discordgo.TextInput); ok {
				out[input.CustomID] = strings.TrimSpace(input.Value)
			}
		}
	}
	return out
}

func clip(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit-1]) + "…"
}
