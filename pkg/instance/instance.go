package instance

import (
	"os"

	"github.com/climbclub/ticketdesk/pkg/env"
)

// ID names this process in logs. TICKETDESK_INSTANCE_ID wins, then the host
// name, then a fixed default.
func ID(service string) string {
	if id := env.Get("TICKETDESK_INSTANCE_ID", ""); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return service + "@" + host
	}
	return service + "-0"
}
