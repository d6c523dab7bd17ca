package orders

import (
	"bytes"
	"encoding/csv"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	internalorders "github.com/climbclub/ticketdesk/internal/orders"
	"github.com/climbclub/ticketdesk/internal/reports"
	"github.com/climbclub/ticketdesk/pkg/db/dbtest"
	"github.com/climbclub/ticketdesk/pkg/db/models"
	"github.com/climbclub/ticketdesk/pkg/enums"
	"github.com/climbclub/ticketdesk/pkg/logger"
)

func newExportHandler(t *testing.T) http.HandlerFunc {
	t.Helper()
	conn := dbtest.Open(t, "api_export")
	seeded := dbtest.SeedTickets(t, conn, 2)
	for i, ticket := range seeded {
		require.NoError(t, conn.Create(&models.OrderRecord{
			TicketID:  ticket.ID,
			OrderID:   "42",
			State:     enums.OrderStatePending,
			CreatedAt: time.Date(2025, 3, 1+i, 12, 0, 0, 0, time.UTC),
		}).Error)
	}
	exporter, err := reports.NewExporter(internalorders.NewLedger(conn), time.UTC)
	require.NoError(t, err)
	return Export(exporter, logger.Nop())
}

func TestExportDownloadsCSV(t *testing.T) {
	handler := newExportHandler(t)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/orders/export?from=01-03-2025&to=02-03-2025", nil))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Header().Get("Content-Disposition"), "orders_01-03-2025_02-03-2025.csv")

	records, err := csv.NewReader(bytes.NewReader(rec.Body.Bytes())).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
}

func TestExportEmptyRangeIsNoContent(t *testing.T) {
	handler := newExportHandler(t)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/orders/export?from=01-01-2024&to=31-01-2024", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestExportValidatesDates(t *testing.T) {
	handler := newExportHandler(t)
	for _, target := range []string{
		"/api/v1/orders/export",
		"/api/v1/orders/export?from=01-03-2025",
		"/api/v1/orders/export?from=2025-03-01&to=2025-03-02",
		"/api/v1/orders/export?from=02-03-2025&to=01-03-2025",
	} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		require.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}
