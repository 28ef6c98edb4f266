// Package notify delivers dispatch events to candidate helpers and
// records who was notified. Delivery is fire-and-forget: the ledger's
// race resolution never depends on a push actually arriving.
package notify

import (
	"context"
	"log"
)

// Notification is the payload delivered to a candidate's device or
// session.
type Notification struct {
	Title      string
	Body       string
	JobKind    string
	JobID      string
	DistanceKm float64
}

// Gateway is the push/notification channel. Implementations must not
// retry on behalf of the dispatcher; a failed delivery is logged and
// skipped.
type Gateway interface {
	Notify(ctx context.Context, recipientID string, n Notification) error
}

// LogGateway writes deliveries to a logger. The embedding system wires
// a real push provider in production; this keeps the engine testable
// and runnable standalone.
type LogGateway struct {
	logger *log.Logger
}

func NewLogGateway(logger *log.Logger) *LogGateway {
	if logger == nil {
		logger = log.Default()
	}
	return &LogGateway{logger: logger}
}

func (g *LogGateway) Notify(_ context.Context, recipientID string, n Notification) error {
	g.logger.Printf("notify recipient=%s kind=%s job=%s title=%q distance_km=%.1f",
		recipientID, n.JobKind, n.JobID, n.Title, n.DistanceKm)
	return nil
}
