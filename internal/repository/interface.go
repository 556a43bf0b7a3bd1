package repository

import (
	"context"
	"errors"

	"github.com/weiawesome/wes-io-live/delivery-service/internal/domain"
)

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrChatroomNotFound = errors.New("chatroom not found")
	ErrMessageNotFound  = errors.New("message not found")
)

// UserRepository defines persistence for users.
type UserRepository interface {
	GetByID(ctx context.Context, id uint64) (*domain.User, error)
	GetByMemberID(ctx context.Context, memberID string) (*domain.User, error)
	// FindOrCreate returns the user with user.MemberID, inserting it when
	// absent. created reports whether this call inserted the row.
	FindOrCreate(ctx context.Context, user *domain.User) (u *domain.User, created bool, err error)
}

// DeviceRepository defines persistence for push devices.
type DeviceRepository interface {
	// Upsert inserts the device or updates token, name and token type of
	// the existing (user, device id) row.
	Upsert(ctx context.Context, device *domain.Device) error
	ListByUser(ctx context.Context, userID uint64) ([]domain.Device, error)
}

// ChatroomRepository defines persistence for chatrooms.
type ChatroomRepository interface {
	GetByID(ctx context.Context, id uint64) (*domain.Chatroom, error)
	// FindByPair looks up the room for the unordered pair (a, b) and kind.
	FindByPair(ctx context.Context, a, b uint64, chatType domain.ChatType) (*domain.Chatroom, error)
	// FindOrCreate returns the room for the unordered pair, inserting it
	// when absent. Concurrent callers converge on one row.
	FindOrCreate(ctx context.Context, a, b uint64, chatType domain.ChatType) (room *domain.Chatroom, created bool, err error)
}

// MessageRepository defines persistence for messages and their status.
type MessageRepository interface {
	Create(ctx context.Context, msg *domain.Message) error
	GetByID(ctx context.Context, id uint64) (*domain.Message, error)
	// MarkDelivered advances sent messages addressed to recipient in the
	// room with id <= throughID.
	MarkDelivered(ctx context.Context, roomID, recipientID, throughID uint64) (int64, error)
	// MarkRead advances every message addressed to reader in the room with
	// id <= throughID that is neither read nor deleted.
	MarkRead(ctx context.Context, roomID, readerID, throughID uint64) (int64, error)
	// MarkDeleted tombstones one message in the room.
	MarkDeleted(ctx context.Context, roomID, messageID uint64) (int64, error)
}
