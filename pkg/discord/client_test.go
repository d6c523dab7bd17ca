package discord

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/require"

	"github.com/climbclub/ticketdesk/pkg/config"
	pkgerrors "github.com/climbclub/ticketdesk/pkg/errors"
)

const testUser = "123456789012345678"

type rewriteTransport struct {
	target *url.URL
}

func (rt rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.URL.Scheme = rt.target.Scheme
	clone.URL.Host = rt.target.Host
	clone.Host = rt.target.Host
	return http.DefaultTransport.RoundTrip(clone)
}

type recorded struct {
	Method string
	Path   string
	Body   string
}

type fakeDiscord struct {
	mu       sync.Mutex
	requests []recorded
	handler  func(w http.ResponseWriter, r *http.Request)
}

func newTestClient(t *testing.T, guildID string, handler func(w http.ResponseWriter, r *http.Request)) (*Client, *fakeDiscord) {
	t.Helper()
	fake := &fakeDiscord{handler: handler}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		fake.mu.Lock()
		fake.requests = append(fake.requests, recorded{Method: r.Method, Path: r.URL.Path, Body: string(body)})
		fake.mu.Unlock()
		r.Body = io.NopCloser(bytes.NewReader(body))
		fake.handler(w, r)
	}))
	t.Cleanup(srv.Close)

	target, _ := url.Parse(srv.URL)
	session, err := discordgo.New("Bot test-token")
	require.NoError(t, err)
	session.Client = &http.Client{Transport: rewriteTransport{target: target}}
	return NewWithSession(session, guildID), fake
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewRequiresToken(t *testing.T) {
	_, err := New(config.DiscordConfig{})
	require.Error(t, err)
}

func TestCreateDirectChannel(t *testing.T) {
	client, fake := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": "900000000000000001", "type": 1})
	})

	id, err := client.CreateDirectChannel(context.Background(), testUser)
	require.NoError(t, err)
	require.Equal(t, "900000000000000001", id)
	require.Len(t, fake.requests, 1)
	require.Equal(t, http.MethodPost, fake.requests[0].Method)
	require.Contains(t, fake.requests[0].Body, testUser)
}

func TestCreateDirectChannelRejectsMalformedID(t *testing.T) {
	client, fake := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})
	_, err := client.CreateDirectChannel(context.Background(), "abc")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnreachable))
	require.Empty(t, fake.requests)
}

func TestCreateDirectChannelUnknownUser(t *testing.T) {
	client, _ := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"code": apiCodeUnknownUser, "message": "Unknown User"})
	})
	_, err := client.CreateDirectChannel(context.Background(), testUser)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnreachable), "got %v", err)
}

func TestEnsureMember(t *testing.T) {
	client, fake := newTestClient(t, "700000000000000000", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/members/"+testUser) {
			writeJSON(w, http.StatusOK, map[string]any{"user": map[string]any{"id": testUser}})
			return
		}
		writeJSON(w, http.StatusNotFound, map[string]any{"code": apiCodeUnknownMember, "message": "Unknown Member"})
	})
	ctx := context.Background()

	require.NoError(t, client.EnsureMember(ctx, testUser))
	err := client.EnsureMember(ctx, "223456789012345678")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnreachable), "got %v", err)
	require.Contains(t, fake.requests[0].Path, "/guilds/700000000000000000/members/")
}

func TestEnsureMemberWithoutGuildSkipsLookup(t *testing.T) {
	client, fake := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})
	require.NoError(t, client.EnsureMember(context.Background(), testUser))
	require.Empty(t, fake.requests)
}

func TestSendFilesPostsMultipart(t *testing.T) {
	client, fake := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data"))
		writeJSON(w, http.StatusOK, map[string]any{"id": "1"})
	})
	err := client.SendFiles(context.Background(), "42", "here are your tickets", []File{
		{Name: "ticket_1.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.4")},
	})
	require.NoError(t, err)
	require.Contains(t, fake.requests[0].Body, "ticket_1.pdf")
	require.Contains(t, fake.requests[0].Path, "/channels/42/messages")
}

func TestSendFilesFailureIsDeliveryError(t *testing.T) {
	client, fake := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]any{"code": apiCodeCannotDMUser, "message": "Cannot send messages to this user"})
	})
	err := client.SendFiles(context.Background(), "42", "hi", nil)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDelivery))
	require.Contains(t, err.Error(), "does not accept direct messages")
	require.Len(t, fake.requests, 1, "sends are never retried")
}

func TestPostAlertAndEditPanel(t *testing.T) {
	client, fake := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": "333", "channel_id": "ops"})
	})
	ctx := context.Background()

	id, err := client.PostAlert(ctx, "ops", "order 5 needs attention", []Button{
		{CustomID: CustomID("view_order_details", "5"), Label: "Details"},
		{CustomID: CustomID("cancel_order", "5"), Label: "Cancel", Style: discordgo.DangerButton},
	})
	require.NoError(t, err)
	require.Equal(t, "333", id)
	require.Contains(t, fake.requests[0].Body, "view_order_details=5")

	require.NoError(t, client.EditPanel(ctx, "ops", "333", "", []Button{{CustomID: "view_order_details=5", Label: "Details"}}))
	require.Equal(t, http.MethodPatch, fake.requests[1].Method)
	require.Contains(t, fake.requests[1].Path, "/channels/ops/messages/333")
	require.NotContains(t, fake.requests[1].Body, "cancel_order")
}

func TestRowsSplitsAtFive(t *testing.T) {
	buttons := make([]Button, 7)
	for i := range buttons {
		buttons[i] = Button{CustomID: CustomID("a", "1"), Label: "x"}
	}
	rows := Rows(buttons)
	require.Len(t, rows, 2)
	require.Len(t, rows[0].(discordgo.ActionsRow).Components, 5)
	require.Len(t, rows[1].(discordgo.ActionsRow).Components, 2)
	first := rows[0].(discordgo.ActionsRow).Components[0].(discordgo.Button)
	require.Equal(t, discordgo.SecondaryButton, first.Style)
	require.Empty(t, Rows(nil))
}

func TestParseCustomID(t *testing.T) {
	action, orderID := ParseCustomID("fetch_tickets=123")
	require.Equal(t, "fetch_tickets", action)
	require.Equal(t, "123", orderID)

	action, orderID = ParseCustomID("export_orders")
	require.Equal(t, "export_orders", action)
	require.Empty(t, orderID)
}

func TestModalValues(t *testing.T) {
	data := discordgo.ModalSubmitInteractionData{
		CustomID: "confirm=cancel_order=5",
		Components: []discordgo.MessageComponent{
			&discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				&discordgo.TextInput{CustomID: "confirmation", Value: " CONFIRMER "},
			}},
		},
	}
	require.Equal(t, map[string]string{"confirmation": "CONFIRMER"}, ModalValues(data))
}

func TestVerifyRequest(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	key, err := ParsePublicKey(hex.EncodeToString(pub))
	require.NoError(t, err)

	body := `{"type":1}`
	timestamp := "1700000000"
	sig := ed25519.Sign(priv, []byte(timestamp+body))

	req := httptest.NewRequest(http.MethodPost, "/interactions", strings.NewReader(body))
	req.Header.Set("X-Signature-Ed25519", hex.EncodeToString(sig))
	req.Header.Set("X-Signature-Timestamp", timestamp)
	require.True(t, VerifyRequest(req, key))

	again, _ := io.ReadAll(req.Body)
	require.Equal(t, body, string(again), "body must stay readable")

	bad := httptest.NewRequest(http.MethodPost, "/interactions", strings.NewReader(body))
	bad.Header.Set("X-Signature-Ed25519", hex.EncodeToString(sig))
	bad.Header.Set("X-Signature-Timestamp", "1700000001")
	require.False(t, VerifyRequest(bad, key))

	_, err = ParsePublicKey("zz")
	require.Error(t, err)
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("é", maxMessageLength+10)
	require.Len(t, []rune(truncate(long)), maxMessageLength)
	require.Equal(t, "short", truncate("short"))
}

func TestModalClipsLongTitles(t *testing.T) {
	resp := Modal("confirm_cancel_order=1234567890", "Confirmer l'annulation de la commande 1234567890 ?",
		TextField{CustomID: "CONFIRMER", Label: "Confirmation", Length: 9})

	require.Equal(t, discordgo.InteractionResponseModal, resp.Type)
	require.Len(t, []rune(resp.Data.Title), maxModalTitle)
	row := resp.Data.Components[0].(discordgo.ActionsRow)
	input := row.Components[0].(discordgo.TextInput)
	require.Equal(t, 9, input.MinLength)
	require.Equal(t, 9, input.MaxLength)
}
