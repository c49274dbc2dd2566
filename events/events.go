// Package events publishes release-request lifecycle events. Every
// successful state transition emits exactly one typed event after its
// transaction commits; downstream notification systems consume them from
// a durable AMQP queue. Delivery is best-effort at-least-once: a failed
// emit is logged, never rolled back into the operation.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Name identifies a lifecycle event. The values match the notification
// names consumed downstream.
type Name string

const (
	RequestSubmitted         Name = "request_submitted"
	RequestPartiallyReviewed Name = "request_partially_reviewed"
	RequestReviewed          Name = "request_reviewed"
	RequestReturned          Name = "request_returned"
	RequestResubmitted       Name = "request_resubmitted"
	RequestRejected          Name = "request_rejected"
	RequestWithdrawn         Name = "request_withdrawn"
	RequestApproved          Name = "request_approved"
	RequestReleased          Name = "request_released"
	RequestUploadFailed      Name = "request_upload_failed"
)

// Event is one lifecycle notification.
type Event struct {
	ID        string    `json:"id"`
	Name      Name      `json:"name"`
	RequestID string    `json:"request_id"`
	Workspace string    `json:"workspace"`
	Author    string    `json:"author"`
	Actor     string    `json:"actor"`
	Turn      int       `json:"turn"`
	Timestamp time.Time `json:"timestamp"`

	// Extra carries event-specific detail, e.g. the failed relpath on
	// request_upload_failed.
	Extra map[string]string `json:"extra,omitempty"`
}

// New builds an event with a fresh id and timestamp.
func New(name Name, requestID, workspace, author, actor string, turn int) Event {
	return Event{
		ID:        uuid.NewString(),
		Name:      name,
		RequestID: requestID,
		Workspace: workspace,
		Author:    author,
		Actor:     actor,
		Turn:      turn,
		Timestamp: time.Now().UTC(),
	}
}

// Sink consumes lifecycle events.
type Sink interface {
	Emit(ctx context.Context, event Event) error
	Close() error
}

// NopSink drops every event. Used when no AMQP URL is configured.
type NopSink struct{}

func (NopSink) Emit(context.Context, Event) error { return nil }
func (NopSink) Close() error                      { return nil }

// Fanout delivers each event to every sink. Emit returns the first
// error but still tries the remaining sinks so one broken consumer does
// not starve the others.
type Fanout []Sink

func (f Fanout) Emit(ctx context.Context, event Event) error {
	var firstErr error
	for _, sink := range f {
		if err := sink.Emit(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f Fanout) Close() error {
	var firstErr error
	for _, sink := range f {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
