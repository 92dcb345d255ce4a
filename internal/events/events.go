// Package events bridges store mutations onto an external message bus.
// Subjects follow "scout.<struct>.<kind>", e.g. "scout.teams.update", so
// downstream consumers can use NATS wildcards like "scout.teams.>".
package events

import (
	"context"
	"log/slog"

	"github.com/driveteam/scoutd/internal/entity"
)

// SubjectPrefix roots every published subject.
const SubjectPrefix = "scout"

// Subject builds the NATS subject for a mutation.
func Subject(structName string, kind entity.Kind) string {
	return SubjectPrefix + "." + structName + "." + string(kind)
}

// Envelope is the published payload shape.
type Envelope struct {
	Event  string         `json:"event"`
	ID     string         `json:"id"`
	Record *entity.Record `json:"record,omitempty"`
	Before *entity.Record `json:"before,omitempty"`
}

// Publisher is the interface for emitting events to the external bus.
type Publisher interface {
	Publish(ctx context.Context, subject string, event any) error
	Close() error
}

// Subscriber receives raw event payloads from the external bus.
type Subscriber interface {
	// Subscribe delivers payloads for the subject (wildcards allowed) on
	// the returned channel. The cancel function unsubscribes and closes it.
	Subscribe(subject string) (<-chan []byte, func(), error)
	Close() error
}

// Relay consumes the in-process mutation bus and republishes each event to
// the external publisher. It returns when ctx is cancelled or the bus closes.
func Relay(ctx context.Context, bus *entity.Bus, pub Publisher) {
	events, cancel := bus.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			env := Envelope{
				Event:  string(evt.Kind),
				ID:     evt.ID,
				Record: evt.Record,
				Before: evt.Before,
			}
			subject := Subject(evt.Struct, evt.Kind)
			if err := pub.Publish(ctx, subject, env); err != nil {
				slog.Warn("failed to publish event", "subject", subject, "error", err)
			}
		}
	}
}
