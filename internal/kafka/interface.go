package kafka

import (
	"context"
	"time"

	"github.com/weiawesome/wes-io-live/delivery-service/internal/domain"
)

//go:generate mockgen -destination=../mocks/mock_producer.go -package=mocks github.com/weiawesome/wes-io-live/delivery-service/internal/kafka EventProducer

// Lifecycle event types.
const (
	EventMessageSent      = "message.sent"
	EventMessageDelivered = "message.delivered"
	EventMessageRead      = "message.read"
	EventMessageDeleted   = "message.deleted"
)

// LifecycleEvent records a message status change for downstream consumers.
type LifecycleEvent struct {
	Type       string               `json:"type"`
	MessageID  uint64               `json:"message_id"`
	ChatroomID uint64               `json:"chatroom_id"`
	ActorID    uint64               `json:"actor_id"`
	Status     domain.MessageStatus `json:"status"`
	Affected   int64                `json:"affected,omitempty"`
	Timestamp  time.Time            `json:"timestamp"`
}

type EventProducer interface {
	Publish(ctx context.Context, event *LifecycleEvent) error
	Close() error
}

// NoopProducer discards events. Used when kafka is disabled.
type NoopProducer struct{}

func (NoopProducer) Publish(context.Context, *LifecycleEvent) error { return nil }

func (NoopProducer) Close() error { return nil }
