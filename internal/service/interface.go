package service

import (
	"context"

	"github.com/weiawesome/wes-io-live/delivery-service/internal/domain"
	"github.com/weiawesome/wes-io-live/delivery-service/internal/notify"
	"github.com/weiawesome/wes-io-live/delivery-service/internal/session"
)

//go:generate mockgen -destination=../mocks/mock_dispatcher.go -package=mocks github.com/weiawesome/wes-io-live/delivery-service/internal/service NotificationDispatcher

// DeliveryService runs the message state machine: send, read and delete.
type DeliveryService interface {
	// Send persists a message and delivers it live or falls back to push
	// notification. The returned message carries the final status.
	Send(ctx context.Context, req *domain.SendRequest) (*domain.Message, error)
	// MarkRead marks every unread message addressed to the reader in the
	// room up to req.MessageID as read.
	MarkRead(ctx context.Context, req *domain.ReadRequest) (int64, error)
	// Delete tombstones a message sent by req.UserID.
	Delete(ctx context.Context, req *domain.DeleteRequest) (*domain.DeletedPayload, error)
	// Stop waits for in-flight notifications.
	Stop()
}

// ConnectionService handles connection-scoped events.
type ConnectionService interface {
	Join(ctx context.Context, h session.Handle, req *domain.JoinRequest) (*domain.JoinedPayload, error)
	Typing(ctx context.Context, from uint64, req *domain.TypingRequest) error
	Disconnect(ctx context.Context, h session.Handle)
	RegisterDevice(ctx context.Context, memberID string, info *domain.DeviceInfo) (*domain.Device, error)
	Presence(ctx context.Context, memberID string) (*PresenceStatus, error)
}

// PresenceStatus answers presence queries.
type PresenceStatus struct {
	UserID   uint64 `json:"userId"`
	MemberID string `json:"memberId"`
	Online   bool   `json:"online"`
	Sessions int    `json:"sessions"`
}

// RoomResolver resolves chatrooms.
type RoomResolver interface {
	Resolve(ctx context.Context, a, b uint64, kind domain.ChatType) (uint64, error)
	Find(ctx context.Context, a, b uint64, kind domain.ChatType) (uint64, bool, error)
	Get(ctx context.Context, roomID uint64) (*domain.Chatroom, error)
}

// NotificationDispatcher pushes summaries to offline recipients.
type NotificationDispatcher interface {
	Notify(ctx context.Context, recipientID uint64, msg *domain.Message, senderID uint64) ([]notify.DeviceOutcome, error)
}

// PresenceTracker binds connections and announces presence transitions.
type PresenceTracker interface {
	Connect(ctx context.Context, userID uint64, h session.Handle) session.Binding
	Disconnect(ctx context.Context, h session.Handle) (userID uint64, remaining int, ok bool)
	Status(ctx context.Context, userID uint64) (online bool, sessions int)
}
