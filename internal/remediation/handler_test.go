package remediation

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/climbclub/ticketdesk/internal/fulfillment"
	"github.com/climbclub/ticketdesk/internal/issues"
	"github.com/climbclub/ticketdesk/internal/orders"
	"github.com/climbclub/ticketdesk/internal/tickets"
	"github.com/climbclub/ticketdesk/pkg/config"
	"github.com/climbclub/ticketdesk/pkg/db/dbtest"
	"github.com/climbclub/ticketdesk/pkg/db/models"
	"github.com/climbclub/ticketdesk/pkg/discord"
	"github.com/climbclub/ticketdesk/pkg/enums"
	pkgerrors "github.com/climbclub/ticketdesk/pkg/errors"
	"github.com/climbclub/ticketdesk/pkg/helloasso"
	"github.com/climbclub/ticketdesk/pkg/logger"
)

const (
	operator = "999999999999999999"
	alice    = "111111111111111111"
	bob      = "222222222222222222"
)

type fakeGateway struct {
	orders    map[string]*helloasso.Order
	cancelled []string
	cancelErr error
	gets      int
}

func (f *fakeGateway) GetOrder(ctx context.Context, orderID string) (*helloasso.Order, error) {
	f.gets++
	order, ok := f.orders[orderID]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, "order not found")
	}
	return order, nil
}

func (f *fakeGateway) CancelOrder(ctx context.Context, orderID string) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

type fakeMessenger struct {
	sent map[string][]discord.File
}

func (f *fakeMessenger) EnsureMember(ctx context.Context, recipientID string) error { return nil }

func (f *fakeMessenger) CreateDirectChannel(ctx context.Context, recipientID string) (string, error) {
	return recipientID, nil
}

func (f *fakeMessenger) SendFiles(ctx context.Context, channelID, message string, files []discord.File) error {
	f.sent[channelID] = files
	return nil
}

type fakeContent struct{}

func (fakeContent) Download(ctx context.Context, object string) ([]byte, error) {
	return []byte(object), nil
}

type fakePanels struct {
	published []*models.Issue
}

func (f *fakePanels) Publish(ctx context.Context, issue *models.Issue) {
	f.published = append(f.published, issue)
}

func (f *fakePanels) Notify(ctx context.Context, text string) {}

type harness struct {
	handler   *Handler
	conn      *gorm.DB
	store     *tickets.Store
	ledger    *orders.Ledger
	tracker   *issues.Tracker
	gateway   *fakeGateway
	messenger *fakeMessenger
	panels    *fakePanels
}

func newHarness(t *testing.T, prefix string) *harness {
	t.Helper()
	conn := dbtest.Open(t, prefix)
	store := tickets.NewStore(conn)
	ledger := orders.NewLedger(conn)
	tracker := issues.NewTracker(conn, ledger)
	h := &harness{
		conn:      conn,
		store:     store,
		ledger:    ledger,
		tracker:   tracker,
		gateway:   &fakeGateway{orders: map[string]*helloasso.Order{}},
		messenger: &fakeMessenger{sent: map[string][]discord.File{}},
		panels:    &fakePanels{},
	}
	pipeline, err := fulfillment.NewService(fulfillment.ServiceParams{
		Gateway:   h.gateway,
		Inventory: store,
		Ledger:    ledger,
		Issues:    tracker,
		Panels:    h.panels,
		Messenger: h.messenger,
		Content:   fakeContent{},
		Logger:    logger.Nop(),
		Config:    config.FulfillmentConfig{MaxItems: 10},
	})
	require.NoError(t, err)

	handler, err := NewHandler(HandlerParams{
		Tracker:  tracker,
		Ledger:   ledger,
		Releaser: store,
		Gateway:  h.gateway,
		Pipeline: pipeline,
		Panels:   h.panels,
		Logger:   logger.Nop(),
		Location: time.UTC,
	})
	require.NoError(t, err)
	h.handler = handler
	return h
}

func snapshot(t *testing.T, id int64, recipients ...string) json.RawMessage {
	t.Helper()
	order := helloasso.Order{
		ID:     id,
		Date:   time.Date(2025, 2, 3, 10, 0, 0, 0, time.UTC),
		Payer:  helloasso.Payer{FirstName: "Jeanne", LastName: "Grimpe", Email: "jeanne@example.org"},
		Amount: helloasso.Amount{Total: 1250},
	}
	for _, r := range recipients {
		order.Items = append(order.Items, helloasso.Item{
			Name:         "Entrée",
			CustomFields: []helloasso.CustomField{{Name: "Discord", Answer: r}},
		})
	}
	raw, err := json.Marshal(order)
	require.NoError(t, err)
	return raw
}

func (h *harness) raise(t *testing.T, orderID string, reason enums.IssueReason, raw json.RawMessage) {
	t.Helper()
	_, err := h.tracker.Raise(context.Background(), issues.RaiseInput{
		OrderID:     orderID,
		Description: "à traiter",
		Reason:      reason,
		Order:       raw,
	})
	require.NoError(t, err)
}

func (h *harness) allocate(t *testing.T, orderID string, n int) {
	t.Helper()
	seeded := dbtest.SeedTickets(t, h.conn, n)
	for _, ticket := range seeded {
		_, err := h.store.Allocate(context.Background(), orderID, ticket.ID)
		require.NoError(t, err)
	}
}

func TestNewHandlerRequiresDependencies(t *testing.T) {
	_, err := NewHandler(HandlerParams{})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
}

func TestHandleUnknownIssue(t *testing.T) {
	h := newHarness(t, "remed_missing")
	_, err := h.handler.Handle(context.Background(), Request{OrderID: "1", Action: issues.ActionViewOrderDetails, Operator: operator})
	require.ErrorIs(t, err, ErrIssueNotFound)
	require.True(t, IsRefusal(err))
}

func TestHandleRejectsUnknownAction(t *testing.T) {
	h := newHarness(t, "remed_action")
	_, err := h.handler.Handle(context.Background(), Request{OrderID: "1", Action: "launch_rocket"})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestMarkIssueProcessed(t *testing.T) {
	h := newHarness(t, "remed_issue_done")
	ctx := context.Background()
	h.raise(t, "10", enums.IssueReasonTooManyItems, nil)

	out, err := h.handler.Handle(ctx, Request{OrderID: "10", Action: issues.ActionMarkIssueProcessed, Operator: operator})
	require.NoError(t, err)
	require.Contains(t, out.Message, "<@"+operator+">")
	require.Equal(t, enums.IssueStatusClosed, out.Issue.Status)
	require.Equal(t, issues.NewActionSet(issues.ActionViewOrderDetails).Bits(), out.Issue.Flags)
	require.Len(t, h.panels.published, 1)
}

func TestMarkIssueProcessedRefusesWithTickets(t *testing.T) {
	h := newHarness(t, "remed_issue_busy")
	h.allocate(t, "11", 1)
	h.raise(t, "11", enums.IssueReasonDeliveryFailed, nil)

	_, err := h.handler.Handle(context.Background(), Request{OrderID: "11", Action: issues.ActionMarkIssueProcessed, Operator: operator})
	require.ErrorIs(t, err, ErrTicketsStillAssigned)
	require.Empty(t, h.panels.published)
}

func TestMarkOrderProcessed(t *testing.T) {
	h := newHarness(t, "remed_order_done")
	ctx := context.Background()
	h.allocate(t, "12", 2)
	h.raise(t, "12", enums.IssueReasonDeliveryFailed, nil)

	out, err := h.handler.Handle(ctx, Request{OrderID: "12", Action: issues.ActionMarkOrderProcessed, Operator: operator})
	require.NoError(t, err)
	require.Equal(t, enums.IssueStatusClosed, out.Issue.Status)

	state, err := h.ledger.StateOf(ctx, "12")
	require.NoError(t, err)
	require.Equal(t, orders.State{Processed: 2}, state)
}

func TestMarkOrderProcessedNeedsTickets(t *testing.T) {
	h := newHarness(t, "remed_order_empty")
	h.raise(t, "13", enums.IssueReasonGatewayUnavailable, nil)

	_, err := h.handler.Handle(context.Background(), Request{OrderID: "13", Action: issues.ActionMarkOrderProcessed, Operator: operator})
	require.ErrorIs(t, err, ErrNoAssociatedTickets)
}

func TestCancelOrder(t *testing.T) {
	h := newHarness(t, "remed_cancel")
	h.raise(t, "14", enums.IssueReasonInvalidRecipient, nil)

	out, err := h.handler.Handle(context.Background(), Request{OrderID: "14", Action: issues.ActionCancelOrder, Operator: operator})
	require.NoError(t, err)
	require.Equal(t, []string{"14"}, h.gateway.cancelled)
	require.Equal(t, "La commande 14 a été annulée par <@"+operator+">.", out.Issue.Description)
	require.Equal(t, enums.IssueStatusClosed, out.Issue.Status)
}

func TestCancelOrderGatewayFailureKeepsIssueOpen(t *testing.T) {
	h := newHarness(t, "remed_cancel_fail")
	ctx := context.Background()
	h.raise(t, "15", enums.IssueReasonInvalidRecipient, nil)
	h.gateway.cancelErr = pkgerrors.New(pkgerrors.CodeGateway, "refund refused")

	_, err := h.handler.Handle(ctx, Request{OrderID: "15", Action: issues.ActionCancelOrder, Operator: operator})
	require.Error(t, err)
	require.False(t, IsRefusal(err))
	require.Contains(t, Describe(err, "15"), "refund refused")

	issue, err := h.tracker.Get(ctx, "15")
	require.NoError(t, err)
	require.Equal(t, enums.IssueStatusOpen, issue.Status)
}

func TestReleaseTicketsRestocksAndAllowsRefetch(t *testing.T) {
	h := newHarness(t, "remed_release")
	ctx := context.Background()
	h.allocate(t, "16", 2)
	h.raise(t, "16", enums.IssueReasonDeliveryFailed, snapshot(t, 16, alice, alice))

	out, err := h.handler.Handle(ctx, Request{OrderID: "16", Action: issues.ActionReleaseTickets, Operator: operator})
	require.NoError(t, err)
	require.Equal(t, enums.IssueReasonTicketsReleased, out.Issue.Reason)
	set := issues.Actions(out.Issue)
	require.True(t, set.Has(issues.ActionFetchTickets))
	require.False(t, set.Has(issues.ActionViewTickets))

	unsold, err := h.store.CountUnsold(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, unsold)

	out, err = h.handler.Handle(ctx, Request{OrderID: "16", Action: issues.ActionFetchTickets, Operator: operator})
	require.NoError(t, err)
	require.Equal(t, enums.IssueStatusClosed, out.Issue.Status)
	require.Len(t, h.messenger.sent[alice], 2)
}

func TestFetchTicketsSingleRecipientDelivers(t *testing.T) {
	h := newHarness(t, "remed_fetch_one")
	ctx := context.Background()
	dbtest.SeedTickets(t, h.conn, 3)
	h.raise(t, "17", enums.IssueReasonInsufficientInventory, snapshot(t, 17, alice, alice))

	out, err := h.handler.Handle(ctx, Request{OrderID: "17", Action: issues.ActionFetchTickets, Operator: operator})
	require.NoError(t, err)
	require.Empty(t, out.Files)
	require.Contains(t, out.Message, alice)
	require.Equal(t, enums.IssueStatusClosed, out.Issue.Status)
	require.Equal(t, "ticket_1.pdf", h.messenger.sent[alice][0].Name)

	state, err := h.ledger.StateOf(ctx, "17")
	require.NoError(t, err)
	require.Equal(t, orders.State{Processed: 2}, state)
	require.Zero(t, h.gateway.gets)
}

func TestFetchTicketsSeveralRecipientsReturnsFiles(t *testing.T) {
	h := newHarness(t, "remed_fetch_many")
	ctx := context.Background()
	dbtest.SeedTickets(t, h.conn, 3)
	h.raise(t, "18", enums.IssueReasonAllocationConflict, snapshot(t, 18, alice, bob))

	out, err := h.handler.Handle(ctx, Request{OrderID: "18", Action: issues.ActionFetchTickets, Operator: operator})
	require.NoError(t, err)
	require.Equal(t, "Tickets pour la commande 18 :", out.Message)
	require.Len(t, out.Files, 2)
	require.Equal(t, "ticket_2.pdf", out.Files[1].Name)
	require.Empty(t, h.messenger.sent)

	require.Equal(t, enums.IssueStatusOpen, out.Issue.Status)
	set := issues.Actions(out.Issue)
	require.True(t, set.Has(issues.ActionMarkOrderProcessed))
	require.True(t, set.Has(issues.ActionReleaseTickets))
}

func TestFetchTicketsReloadsMissingSnapshot(t *testing.T) {
	h := newHarness(t, "remed_fetch_reload")
	ctx := context.Background()
	dbtest.SeedTickets(t, h.conn, 1)
	h.raise(t, "19", enums.IssueReasonGatewayUnavailable, nil)

	order := &helloasso.Order{ID: 19, Items: []helloasso.Item{{
		Name:         "Entrée",
		CustomFields: []helloasso.CustomField{{Name: "Discord", Answer: bob}},
	}}}
	order.Raw = json.RawMessage(`{"id":19}`)
	h.gateway.orders["19"] = order

	_, err := h.handler.Handle(ctx, Request{OrderID: "19", Action: issues.ActionFetchTickets, Operator: operator})
	require.NoError(t, err)
	require.Equal(t, 1, h.gateway.gets)

	issue, err := h.tracker.Get(ctx, "19")
	require.NoError(t, err)
	require.JSONEq(t, `{"id":19}`, string(issue.Order))
}

func TestFetchTicketsRefusals(t *testing.T) {
	h := newHarness(t, "remed_fetch_refuse")
	ctx := context.Background()

	h.allocate(t, "20", 1)
	h.raise(t, "20", enums.IssueReasonAllocationConflict, snapshot(t, 20, alice))
	_, err := h.handler.Handle(ctx, Request{OrderID: "20", Action: issues.ActionFetchTickets, Operator: operator})
	require.ErrorIs(t, err, ErrTicketsAlreadyAssigned)
	require.Equal(t, "Les tickets pour la commande 20 ont déjà été attribués.", Describe(err, "20"))

	h.raise(t, "21", enums.IssueReasonTooManyItems, snapshot(t, 21, alice))
	_, err = h.handler.Handle(ctx, Request{OrderID: "21", Action: issues.ActionFetchTickets, Operator: operator})
	require.ErrorIs(t, err, ErrActionNotAllowed)
}

func TestFetchTicketsWithoutStockKeepsIssueOpen(t *testing.T) {
	h := newHarness(t, "remed_fetch_stock")
	ctx := context.Background()
	h.raise(t, "22", enums.IssueReasonGatewayUnavailable, snapshot(t, 22, alice))

	out, err := h.handler.Handle(ctx, Request{OrderID: "22", Action: issues.ActionFetchTickets, Operator: operator})
	require.NoError(t, err)
	require.Contains(t, out.Message, "Pas assez de tickets")
	require.Equal(t, enums.IssueReasonInsufficientInventory, out.Issue.Reason)
	require.True(t, issues.Actions(out.Issue).Has(issues.ActionFetchTickets))
}

func TestViewDetailsAndTickets(t *testing.T) {
	h := newHarness(t, "remed_view")
	ctx := context.Background()
	h.allocate(t, "23", 2)
	h.raise(t, "23", enums.IssueReasonDeliveryFailed, snapshot(t, 23, alice, bob))

	out, err := h.handler.Handle(ctx, Request{OrderID: "23", Action: issues.ActionViewOrderDetails, Operator: operator})
	require.NoError(t, err)
	require.Contains(t, out.Message, "**Montant** : 12.50 €")
	require.Contains(t, out.Message, "Jeanne Grimpe")
	require.Contains(t, out.Message, "03/02/2025")
	require.Contains(t, out.Message, "Discord "+bob)

	out, err = h.handler.Handle(ctx, Request{OrderID: "23", Action: issues.ActionViewTickets, Operator: operator})
	require.NoError(t, err)
	require.Len(t, out.Files, 2)
	require.Empty(t, h.panels.published)
}
