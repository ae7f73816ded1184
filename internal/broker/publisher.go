package broker

import (
	"log/slog"

	"github.com/watchroom/backend/internal/events"
)

// Publisher fans an event out to every live subscriber of a topic.
// Delivery is at-most-once per subscription per event and preserves emit
// order within a topic; it is fire-and-forget relative to the command that
// produced the event.
type Publisher struct {
	registry *Registry
}

// NewPublisher creates a Publisher over the given registry.
func NewPublisher(registry *Registry) *Publisher {
	return &Publisher{registry: registry}
}

// Publish delivers ev to all current subscribers of topic. Sends happen
// under the registry lock in emit order, so each subscription observes
// events for its topic in the order they were published. A subscription
// whose buffer is full has stopped draining; it is evicted instead of
// stalling or reordering delivery for the rest.
func (p *Publisher) Publish(topic string, ev events.Envelope) {
	r := p.registry
	r.mu.Lock()
	defer r.mu.Unlock()

	for sub := range r.topics[topic] {
		select {
		case sub.C <- ev:
		default:
			slog.Debug("dropping stalled subscriber",
				slog.String("topic", topic),
				slog.String("event", ev.Name))
			r.dropLocked(sub)
		}
	}
}
