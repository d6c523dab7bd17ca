package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/climbclub/ticketdesk/pkg/db/dbtest"
	"github.com/climbclub/ticketdesk/pkg/db/models"
	"github.com/climbclub/ticketdesk/pkg/enums"
	pkgerrors "github.com/climbclub/ticketdesk/pkg/errors"
)

func seedRecords(t *testing.T, conn *gorm.DB, orderID string, at time.Time, states ...enums.OrderState) []models.Ticket {
	t.Helper()
	tickets := dbtest.SeedTickets(t, conn, len(states))
	for i, state := range states {
		require.NoError(t, conn.Model(&tickets[i]).Update("sold", true).Error)
		rec := models.OrderRecord{TicketID: tickets[i].ID, OrderID: orderID, State: state, CreatedAt: at.Add(time.Duration(i) * time.Second)}
		require.NoError(t, conn.Create(&rec).Error)
	}
	return tickets
}

func TestStateOfCountsByState(t *testing.T) {
	conn := dbtest.Open(t, "orders_state")
	ledger := NewLedger(conn)
	now := time.Now().UTC()
	seedRecords(t, conn, "1", now, enums.OrderStatePending, enums.OrderStatePending, enums.OrderStateProcessed, enums.OrderStateCancelled)

	st, err := ledger.StateOf(context.Background(), "1")
	require.NoError(t, err)
	require.Equal(t, State{Pending: 2, Processed: 1, Cancelled: 1}, st)
	require.Equal(t, 3, st.Active())
	require.Equal(t, 4, st.Total())

	empty, err := ledger.StateOf(context.Background(), "missing")
	require.NoError(t, err)
	require.Zero(t, empty.Total())
}

func TestMarkProcessedAndCancelled(t *testing.T) {
	conn := dbtest.Open(t, "orders_mark")
	ledger := NewLedger(conn)
	ctx := context.Background()
	seedRecords(t, conn, "5", time.Now().UTC(), enums.OrderStatePending, enums.OrderStatePending)

	n, err := ledger.MarkProcessed(ctx, "5")
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	st, err := ledger.StateOf(ctx, "5")
	require.NoError(t, err)
	require.Equal(t, 2, st.Processed)

	n, err = ledger.MarkCancelled(ctx, "5")
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	_, err = ledger.MarkProcessed(ctx, "nope")
	require.ErrorIs(t, err, ErrNoSuchOrder)
	_, err = ledger.MarkCancelled(ctx, "nope")
	require.ErrorIs(t, err, ErrNoSuchOrder)
}

func TestMarkTicketsProcessedOnlyTouchesPending(t *testing.T) {
	conn := dbtest.Open(t, "orders_confirm")
	ledger := NewLedger(conn)
	ctx := context.Background()
	tickets := seedRecords(t, conn, "8", time.Now().UTC(), enums.OrderStatePending, enums.OrderStateCancelled, enums.OrderStatePending)

	n, err := ledger.MarkTicketsProcessed(ctx, []uuid.UUID{tickets[0].ID, tickets[1].ID})
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	st, err := ledger.StateOf(ctx, "8")
	require.NoError(t, err)
	require.Equal(t, State{Pending: 1, Processed: 1, Cancelled: 1}, st)

	n, err = ledger.MarkTicketsProcessed(ctx, nil)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestListBetween(t *testing.T) {
	conn := dbtest.Open(t, "orders_range")
	ledger := NewLedger(conn)
	ctx := context.Background()

	day := time.Date(2025, 4, 10, 12, 0, 0, 0, time.UTC)
	seedRecords(t, conn, "old", day.AddDate(0, 0, -5), enums.OrderStateProcessed)
	seedRecords(t, conn, "in", day, enums.OrderStateProcessed, enums.OrderStatePending)
	seedRecords(t, conn, "late", day.AddDate(0, 0, 5), enums.OrderStateProcessed)

	rows, err := ledger.ListBetween(ctx, day.Add(-time.Hour), day.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, r := range rows {
		require.Equal(t, "in", r.OrderID)
	}

	_, err = ledger.ListBetween(ctx, day, day.Add(-time.Hour))
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestTicketsForOrder(t *testing.T) {
	conn := dbtest.Open(t, "orders_tickets")
	ledger := NewLedger(conn)
	ctx := context.Background()
	tickets := seedRecords(t, conn, "3", time.Now().UTC(), enums.OrderStatePending, enums.OrderStateCancelled)

	active, err := ledger.TicketsForOrder(ctx, "3", true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, tickets[0].ID, active[0].ID)

	all, err := ledger.TicketsForOrder(ctx, "3", false)
	require.NoError(t, err)
	require.Len(t, all, 2)

	exists, err := ledger.Exists(ctx, "3")
	require.NoError(t, err)
	require.True(t, exists)
}
