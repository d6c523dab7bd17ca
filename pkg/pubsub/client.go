package pubsub

import (
	"context"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/climbclub/ticketdesk/pkg/config"
	pkgerrors "github.com/climbclub/ticketdesk/pkg/errors"
	"github.com/climbclub/ticketdesk/pkg/logger"
)

// Client owns the Pub/Sub connection of the ticket ingester.
type Client struct {
	client       *pubsub.Client
	subscription string
	cfg          config.PubSubConfig
}

// NewClient connects and verifies the tickets subscription before returning,
// so a typo in its name fails at boot rather than on first receive.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "gcp project id is required")
	}
	name, err := subscriptionResourceName(projectID, cfg.TicketsSubscription)
	if err != nil {
		return nil, err
	}

	psClient, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create pubsub client")
	}
	c := &Client{client: psClient, subscription: name, cfg: cfg}

	sub, err := c.describe(ctx)
	if err != nil {
		_ = psClient.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"subscription":     name,
			"ack_deadline_sec": sub.GetAckDeadlineSeconds(),
		}), "pubsub client initialized")
	}
	return c, nil
}

// Ping verifies the tickets subscription is still reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.describe(ctx)
	return err
}

func (c *Client) describe(ctx context.Context) (*pubsubpb.Subscription, error) {
	if c == nil || c.client == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "pubsub client not initialized")
	}
	sub, err := c.client.SubscriptionAdminClient.GetSubscription(ctx,
		&pubsubpb.GetSubscriptionRequest{Subscription: c.subscription})
	switch {
	case status.Code(err) == codes.NotFound:
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "subscription "+c.subscription+" does not exist")
	case err != nil:
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "get subscription "+c.subscription)
	}
	return sub, nil
}

// TicketsSubscription returns the subscriber receiving bucket notifications
// for uploaded ticket files. Registration is a single insert per file, so
// flow control stays small to keep redeliveries cheap on shutdown.
func (c *Client) TicketsSubscription() *pubsub.Subscriber {
	if c == nil || c.client == nil {
		return nil
	}
	sub := c.client.Subscriber(c.subscription)
	if c.cfg.MaxOutstanding > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = c.cfg.MaxOutstanding
	}
	if c.cfg.NumGoroutines > 0 {
		sub.ReceiveSettings.NumGoroutines = c.cfg.NumGoroutines
	}
	return sub
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// subscriptionResourceName accepts a bare id or a full resource name.
func subscriptionResourceName(projectID, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "pubsub tickets subscription name is required")
	}
	if strings.HasPrefix(name, "projects/") && strings.Contains(name, "/subscriptions/") {
		return name, nil
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "gcp project id is required")
	}
	return "projects/" + projectID + "/subscriptions/" + name, nil
}
