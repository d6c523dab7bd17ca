package pubsub

import (
	"context"
	"testing"

	"github.com/climbclub/ticketdesk/pkg/config"
	pkgerrors "github.com/climbclub/ticketdesk/pkg/errors"
)

func TestSubscriptionResourceName(t *testing.T) {
	cases := []struct {
		project, name, want string
		wantErr             bool
	}{
		{project: "club", name: "ticket-uploads", want: "projects/club/subscriptions/ticket-uploads"},
		{project: "club", name: " projects/other/subscriptions/x ", want: "projects/other/subscriptions/x"},
		{project: "", name: "ticket-uploads", wantErr: true},
		{project: "club", name: " ", wantErr: true},
	}
	for _, tc := range cases {
		got, err := subscriptionResourceName(tc.project, tc.name)
		if tc.wantErr {
			if !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
				t.Fatalf("subscriptionResourceName(%q, %q): expected dependency error, got %v", tc.project, tc.name, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("subscriptionResourceName(%q, %q) = %q, %v; want %q", tc.project, tc.name, got, err, tc.want)
		}
	}
}

func TestNewClientRequiresProject(t *testing.T) {
	_, err := NewClient(context.Background(), config.GCPConfig{}, config.PubSubConfig{TicketsSubscription: "ticket-uploads"}, nil)
	if !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected project id error, got %v", err)
	}
}

func TestNilClient(t *testing.T) {
	var c *Client
	if c.TicketsSubscription() != nil {
		t.Fatalf("nil client must not return a subscriber")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := c.Ping(context.Background()); err == nil {
		t.Fatalf("expected ping error on nil client")
	}
}
