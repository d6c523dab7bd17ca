package issues

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/climbclub/ticketdesk/internal/orders"
	"github.com/climbclub/ticketdesk/internal/tickets"
	"github.com/climbclub/ticketdesk/pkg/db/dbtest"
	"github.com/climbclub/ticketdesk/pkg/db/models"
	"github.com/climbclub/ticketdesk/pkg/enums"
	"github.com/climbclub/ticketdesk/pkg/pagination"
)

func newTracker(t *testing.T, prefix string) (*Tracker, *gorm.DB) {
	t.Helper()
	conn := dbtest.Open(t, prefix)
	return NewTracker(conn, orders.NewLedger(conn)), conn
}

func TestRaiseComputesFlagsFromLedger(t *testing.T) {
	tracker, conn := newTracker(t, "issues_raise")
	ctx := context.Background()

	issue, err := tracker.Raise(ctx, RaiseInput{
		OrderID:     "77",
		Description: "not enough tickets",
		Reason:      enums.IssueReasonInsufficientInventory,
		Order:       json.RawMessage(`{"id":77}`),
	})
	require.NoError(t, err)
	require.Equal(t, enums.IssueStatusOpen, issue.Status)
	require.Equal(t, Capabilities(enums.IssueStatusOpen, orders.State{}, enums.IssueReasonInsufficientInventory).Bits(), issue.Flags)
	require.JSONEq(t, `{"id":77}`, string(issue.Order))

	seeded := dbtest.SeedTickets(t, conn, 1)
	_, err = tickets.NewStore(conn).Allocate(ctx, "77", seeded[0].ID)
	require.NoError(t, err)

	refreshed, err := tracker.Refresh(ctx, "77")
	require.NoError(t, err)
	set := Actions(refreshed)
	require.True(t, set.Has(ActionViewTickets))
	require.False(t, set.Has(ActionFetchTickets))
}

func TestRaiseOverwritesButKeepsCreationAndPanel(t *testing.T) {
	tracker, _ := newTracker(t, "issues_overwrite")
	ctx := context.Background()
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return start }

	_, err := tracker.Raise(ctx, RaiseInput{
		OrderID:     "5",
		Description: "first",
		Reason:      enums.IssueReasonGatewayUnavailable,
		Order:       json.RawMessage(`{"id":5}`),
	})
	require.NoError(t, err)
	require.NoError(t, tracker.SetPanel(ctx, "5", "ops", "msg-1"))

	_, err = tracker.Close(ctx, "5")
	require.NoError(t, err)

	tracker.now = func() time.Time { return start.Add(time.Hour) }
	issue, err := tracker.Raise(ctx, RaiseInput{
		OrderID:     "5",
		Description: "second",
		Reason:      enums.IssueReasonDeliveryFailed,
	})
	require.NoError(t, err)
	require.Equal(t, "second", issue.Description)
	require.Equal(t, enums.IssueStatusOpen, issue.Status)
	require.Equal(t, enums.IssueReasonDeliveryFailed, issue.Reason)
	require.True(t, issue.CreatedAt.Equal(start))
	require.True(t, issue.UpdatedAt.Equal(start.Add(time.Hour)))
	require.NotNil(t, issue.PanelMessageID)
	require.Equal(t, "msg-1", *issue.PanelMessageID)
	require.JSONEq(t, `{"id":5}`, string(issue.Order), "nil snapshot keeps the stored one")
}

func TestCloseLeavesOnlyDetails(t *testing.T) {
	tracker, _ := newTracker(t, "issues_close")
	ctx := context.Background()

	_, err := tracker.Raise(ctx, RaiseInput{OrderID: "9", Description: "x", Reason: enums.IssueReasonOrderMismatch})
	require.NoError(t, err)

	closed, err := tracker.Close(ctx, "9")
	require.NoError(t, err)
	require.Equal(t, enums.IssueStatusClosed, closed.Status)
	require.Equal(t, []Action{ActionViewOrderDetails}, Actions(closed).Actions())

	stored, err := tracker.Get(ctx, "9")
	require.NoError(t, err)
	require.Equal(t, closed.Flags, stored.Flags)
}

func TestMissingIssue(t *testing.T) {
	tracker, _ := newTracker(t, "issues_missing")
	ctx := context.Background()

	_, err := tracker.Get(ctx, "404")
	require.ErrorIs(t, err, ErrIssueNotFound)
	_, err = tracker.Close(ctx, "404")
	require.ErrorIs(t, err, ErrIssueNotFound)
	require.ErrorIs(t, tracker.SetPanel(ctx, "404", "c", "m"), ErrIssueNotFound)

	exists, err := tracker.Exists(ctx, "404")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestRaiseValidatesInput(t *testing.T) {
	tracker, _ := newTracker(t, "issues_validate")
	_, err := tracker.Raise(context.Background(), RaiseInput{OrderID: " ", Reason: enums.IssueReasonOrderMismatch})
	require.Error(t, err)
	_, err = tracker.Raise(context.Background(), RaiseInput{OrderID: "1", Reason: "bogus"})
	require.Error(t, err)
}

func TestListPagesNewestFirst(t *testing.T) {
	tracker, _ := newTracker(t, "issues_list")
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"1", "2", "3", "4"} {
		at := base.Add(time.Duration(i) * time.Minute)
		tracker.now = func() time.Time { return at }
		_, err := tracker.Raise(ctx, RaiseInput{OrderID: id, Description: "d", Reason: enums.IssueReasonOrderMismatch})
		require.NoError(t, err)
	}
	tracker.now = func() time.Time { return base.Add(time.Hour) }
	_, err := tracker.Close(ctx, "2")
	require.NoError(t, err)

	first, err := tracker.List(ctx, ListParams{Params: pagination.Params{Limit: 2}})
	require.NoError(t, err)
	require.Equal(t, []string{"4", "3"}, orderIDs(first.Issues))
	require.NotEmpty(t, first.NextCursor)

	second, err := tracker.List(ctx, ListParams{Params: pagination.Params{Limit: 2, Cursor: first.NextCursor}})
	require.NoError(t, err)
	require.Equal(t, []string{"2", "1"}, orderIDs(second.Issues))
	require.Empty(t, second.NextCursor)

	open := enums.IssueStatusOpen
	openOnly, err := tracker.List(ctx, ListParams{Status: &open})
	require.NoError(t, err)
	require.Equal(t, []string{"4", "3", "1"}, orderIDs(openOnly.Issues))

	_, err = tracker.List(ctx, ListParams{Params: pagination.Params{Cursor: "%%%"}})
	require.Error(t, err)
}

func TestControlsFollowActionOrder(t *testing.T) {
	buttons := Controls("12", NewActionSet(ActionFetchTickets, ActionViewOrderDetails))
	require.Len(t, buttons, 2)
	require.Equal(t, "view_order_details=12", buttons[0].CustomID)
	require.Equal(t, "fetch_tickets=12", buttons[1].CustomID)
	require.NotEmpty(t, buttons[1].Label)
}

func orderIDs(rows []models.Issue) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.OrderID)
	}
	return out
}
