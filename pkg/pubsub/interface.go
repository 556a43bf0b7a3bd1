package pubsub

import (
	"context"
	"encoding/json"
	"time"
)

// Event is the envelope carried on the bus between delivery instances.
type Event struct {
	Type      string          `json:"type"`
	Source    string          `json:"source"` // instance id of the publisher
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent wraps payload in an event stamped with the current time.
func NewEvent(eventType, source string, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		Type:      eventType,
		Source:    source,
		Payload:   data,
		Timestamp: time.Now(),
	}, nil
}

// UnmarshalPayload decodes the event payload into v.
func (e *Event) UnmarshalPayload(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// Publisher publishes events to a channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, event *Event) error
}

// Subscriber streams every event published on channels matching a pattern.
// The returned channel is closed when ctx is done or the subscription fails.
type Subscriber interface {
	SubscribePattern(ctx context.Context, pattern string) (<-chan *Event, error)
}

// PubSub is a bus driver.
type PubSub interface {
	Publisher
	Subscriber
	Close() error
}

const eventBuffer = 100

// forward hands event to out without blocking the driver's read loop.
// It reports false once ctx is done.
func forward(ctx context.Context, out chan<- *Event, event *Event, channel string) bool {
	select {
	case out <- event:
	case <-ctx.Done():
		return false
	default:
		dropped(channel, event.Type)
	}
	return true
}
