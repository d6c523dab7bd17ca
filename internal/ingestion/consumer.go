package ingestion

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"path"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/climbclub/ticketdesk/pkg/db/models"
	pkgerrors "github.com/climbclub/ticketdesk/pkg/errors"
	"github.com/climbclub/ticketdesk/pkg/logger"
	"github.com/climbclub/ticketdesk/pkg/metrics"
)

// Storage notification attributes, see the bucket's pubsub notification
// config.
const (
	objectFinalizeEvent  = "OBJECT_FINALIZE"
	payloadFormatJSONAPI = "JSON_API_V1"
	pdfContentType       = "application/pdf"
	maxLoggedPayload     = 512
)

type registrar interface {
	AddTicket(ctx context.Context, url string) (*models.Ticket, bool, error)
}

// Consumer turns each PDF finalized in the ticket bucket into one unsold
// ticket. Redelivered notifications are absorbed by AddTicket, which looks up
// and inserts the object name under a per-URL lock.
type Consumer struct {
	store        registrar
	subscription *pubsub.Subscriber
	bucket       string
	logg         *logger.Logger
	metrics      *metrics.OperationMetrics
}

// NewConsumer wires a consumer. A non-empty bucket drops notifications for
// other buckets publishing to the same topic.
func NewConsumer(store registrar, subscription *pubsub.Subscriber, bucket string, logg *logger.Logger, m *metrics.OperationMetrics) (*Consumer, error) {
	switch {
	case store == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "ticket store required")
	case subscription == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "tickets subscription required")
	case logg == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	return &Consumer{
		store:        store,
		subscription: subscription,
		bucket:       strings.TrimSpace(bucket),
		logg:         logg,
		metrics:      m,
	}, nil
}

// Run blocks receiving notifications until ctx ends.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if out := c.process(ctx, msg.ID, msg.Attributes, msg.Data); out.nack {
			msg.Nack()
		} else {
			msg.Ack()
		}
	})
}

type outcome struct {
	ack    bool
	nack   bool
	result string
}

func settled(result string) outcome { return outcome{ack: true, result: result} }

func (c *Consumer) process(ctx context.Context, messageID string, attrs map[string]string, data []byte) outcome {
	out := c.handle(ctx, newNotification(messageID, attrs), data)
	c.metrics.IncIngested(out.result)
	return out
}

func (c *Consumer) handle(ctx context.Context, n notification, data []byte) outcome {
	ctx = c.logg.WithFields(ctx, n.fields())

	switch {
	case n.event != objectFinalizeEvent:
		c.logg.Info(ctx, "ingestion.skip_event")
		return settled("skipped")
	case n.format != payloadFormatJSONAPI:
		c.logg.Warn(ctx, "ingestion.unsupported_format")
		return settled("rejected")
	}

	if err := n.decode(data); err != nil {
		ctx = c.logg.WithField(ctx, "payload_preview", preview(data))
		c.logg.Error(ctx, "ingestion.bad_payload", err)
		return settled("rejected")
	}
	ctx = c.logg.WithFields(ctx, n.fields())

	switch {
	case n.object.Name == "":
		c.logg.Warn(ctx, "ingestion.missing_object_name")
		return settled("rejected")
	case c.bucket != "" && n.bucket != c.bucket:
		c.logg.Info(ctx, "ingestion.foreign_bucket")
		return settled("skipped")
	case !n.object.isTicket():
		c.logg.Info(ctx, "ingestion.not_a_ticket")
		return settled("skipped")
	}

	ticket, created, err := c.store.AddTicket(ctx, n.object.Name)
	if err != nil {
		c.logg.Error(ctx, "ingestion.register_failed", err)
		if redeliverable(err) {
			return outcome{nack: true, result: "error"}
		}
		return settled("error")
	}

	ctx = c.logg.WithField(ctx, "ticket_id", ticket.ID.String())
	if !created {
		c.logg.Info(ctx, "ingestion.duplicate")
		return settled("duplicate")
	}
	c.logg.Info(ctx, "ingestion.ticket_registered")
	return settled("created")
}

// redeliverable covers cancellation, timeouts and typed retryable failures.
// Validation errors would fail again identically and are acked.
func redeliverable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if pkgerrors.As(err) != nil {
		return pkgerrors.IsRetryable(err)
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

type notification struct {
	id     string
	event  string
	format string
	bucket string
	object objectPayload
}

func newNotification(id string, attrs map[string]string) notification {
	return notification{
		id:     id,
		event:  attrs["eventType"],
		format: attrs["payloadFormat"],
		bucket: strings.TrimSpace(attrs["bucketId"]),
	}
}

// decode reads the object resource carried by the message. Push deliveries
// base64 the body, pull deliveries do not.
func (n *notification) decode(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "empty notification payload")
	}
	if raw, err := base64.StdEncoding.DecodeString(string(data)); err == nil {
		data = raw
	}
	if err := json.Unmarshal(data, &n.object); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode object resource")
	}
	n.object.Name = strings.TrimSpace(n.object.Name)
	if n.bucket == "" {
		n.bucket = strings.TrimSpace(n.object.Bucket)
	}
	return nil
}

func (n notification) fields() map[string]any {
	f := map[string]any{
		"message_id": n.id,
		"event_type": n.event,
		"bucket":     n.bucket,
	}
	if n.object.Name != "" {
		f["object"] = n.object.Name
	}
	return f
}

type objectPayload struct {
	Name        string `json:"name"`
	Bucket      string `json:"bucket"`
	ContentType string `json:"contentType"`
	Size        string `json:"size"`
}

func (o objectPayload) isTicket() bool {
	if strings.HasSuffix(o.Name, "/") {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(o.ContentType), pdfContentType) ||
		strings.EqualFold(path.Ext(o.Name), ".pdf")
}

func preview(b []byte) string {
	if len(b) <= maxLoggedPayload {
		return string(b)
	}
	return string(b[:maxLoggedPayload]) + "...(truncated)"
}
