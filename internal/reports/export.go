package reports

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	"github.com/climbclub/ticketdesk/pkg/db/models"
	"github.com/climbclub/ticketdesk/pkg/discord"
	pkgerrors "github.com/climbclub/ticketdesk/pkg/errors"
	"github.com/climbclub/ticketdesk/pkg/locale"
)

const (
	MessageReady = "Voici votre fichier CSV contenant les commandes."
	MessageEmpty = "Aucune commande trouvée pour cette période."
)

var header = []string{"Order ID", "Order Date", "Ticket ID", "Order State"}

type RecordLister interface {
	ListBetween(ctx context.Context, from, to time.Time) ([]models.OrderRecord, error)
}

// Exporter renders order records as CSV for a range of local days.
type Exporter struct {
	ledger RecordLister
	loc    *time.Location
}

func NewExporter(ledger RecordLister, loc *time.Location) (*Exporter, error) {
	if ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "order ledger required")
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Exporter{ledger: ledger, loc: loc}, nil
}

// Export is one rendered file. Data is empty when Rows is zero.
type Export struct {
	FileName string
	Rows     int
	Data     []byte
	Message  string
}

// File wraps the export as a chat attachment.
func (e *Export) File() discord.File {
	return discord.File{Name: e.FileName, ContentType: "text/csv", Data: e.Data}
}

// Export lists records created between the start of from and the end of to,
// both DD-MM-YYYY days in the exporter's zone.
func (e *Exporter) Export(ctx context.Context, from, to string) (*Export, error) {
	from, to = strings.TrimSpace(from), strings.TrimSpace(to)
	start, end, err := locale.DayRange(from, to, e.loc)
	if err != nil {
		return nil, err
	}
	rows, err := e.ledger.ListBetween(ctx, start, end)
	if err != nil {
		return nil, err
	}

	out := &Export{FileName: fmt.Sprintf("orders_%s_%s.csv", from, to), Rows: len(rows)}
	if len(rows) == 0 {
		out.Message = MessageEmpty
		return out, nil
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "write csv header")
	}
	for _, r := range rows {
		record := []string{r.OrderID, locale.DateTime(r.CreatedAt, e.loc), r.TicketID.String(), r.State.String()}
		if err := w.Write(record); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "write csv row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "flush csv")
	}

	out.Data = buf.Bytes()
	out.Message = MessageReady
	return out, nil
}
