package jobserver

import (
	"context"

	"airlock.evalgo.org/events"
)

// Notifier bridges lifecycle events to the Jobs site notification
// endpoint. It implements events.Sink so the controller treats the Jobs
// site like any other downstream consumer.
type Notifier struct {
	client *Client
}

// NewNotifier wraps a Jobs site client as an event sink.
func NewNotifier(client *Client) *Notifier {
	return &Notifier{client: client}
}

// Emit posts the event in the Jobs site notification shape.
func (n *Notifier) Emit(ctx context.Context, event events.Event) error {
	payload := map[string]any{
		"event_type":     string(event.Name),
		"workspace":      event.Workspace,
		"request_id":     event.RequestID,
		"request_author": event.Author,
		"user":           event.Actor,
		"timestamp":      event.Timestamp,
	}
	return n.client.Notify(ctx, payload)
}

// Close is a no-op; the client owns no long-lived resources.
func (n *Notifier) Close() error { return nil }
