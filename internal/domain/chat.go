package domain

import (
	"time"
)

// ChatType is the kind of conversation a chatroom holds.
type ChatType string

const (
	ChatTypeDirect ChatType = "direct"
	ChatTypeGroup  ChatType = "group"
)

// Valid reports whether t is a known chat type.
func (t ChatType) Valid() bool {
	return t == ChatTypeDirect || t == ChatTypeGroup
}

// MessageType is the content kind of a message.
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeVideo MessageType = "video"
	MessageTypePDF   MessageType = "pdf"
	MessageTypeOther MessageType = "other"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeVideo, MessageTypePDF, MessageTypeOther:
		return true
	}
	return false
}

// Editable reports whether messages of this type may be edited by clients.
func (t MessageType) Editable() bool {
	return t == MessageTypeText
}

// MessageStatus is the delivery state of a message.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusDeleted   MessageStatus = "deleted"
)

// Rank orders statuses along sent < delivered < read. Deleted ranks above
// all of them since it is absorbing.
func (s MessageStatus) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	case StatusDeleted:
		return 4
	}
	return 0
}

// CanTransition reports whether a message in status s may move to next.
// Transitions are monotonic along sent → delivered → read (skipping
// delivered is allowed); deleted is reachable from any status and final.
func (s MessageStatus) CanTransition(next MessageStatus) bool {
	if s == StatusDeleted {
		return false
	}
	if next == StatusDeleted {
		return true
	}
	return next.Rank() > s.Rank()
}

// User is a durable chat identity.
type User struct {
	ID        uint64    `json:"id"`
	MemberID  string    `json:"member_id"`
	Name      string    `json:"name"`
	AppName   string    `json:"app_name"`
	CreatedAt time.Time `json:"created_at"`
}

// DisplayName returns the user's name, or fallback when unset.
func (u *User) DisplayName(fallback string) string {
	if u == nil || u.Name == "" {
		return fallback
	}
	return u.Name
}

// TokenTypeExpo marks devices registered with an Expo push token.
const TokenTypeExpo = "expo"

// Device is a push destination registered by a user.
type Device struct {
	ID         uint64    `json:"id"`
	UserID     uint64    `json:"user_id"`
	DeviceID   string    `json:"device_id"`
	DeviceName string    `json:"device_name"`
	Token      string    `json:"token"`
	TokenType  string    `json:"token_type"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Chatroom is a conversation between two users. User1ID is always the
// lower of the two ids.
type Chatroom struct {
	ID        uint64    `json:"id"`
	ChatType  ChatType  `json:"chat_type"`
	User1ID   uint64    `json:"user1_id"`
	User2ID   uint64    `json:"user2_id"`
	CreatedAt time.Time `json:"created_at"`
}

// HasParticipant reports whether userID is one of the room's participants.
func (c *Chatroom) HasParticipant(userID uint64) bool {
	return c.User1ID == userID || c.User2ID == userID
}

// Counterpart returns the participant that is not userID.
func (c *Chatroom) Counterpart(userID uint64) uint64 {
	if c.User1ID == userID {
		return c.User2ID
	}
	return c.User1ID
}

// OrderPair returns a and b with the lower id first.
func OrderPair(a, b uint64) (uint64, uint64) {
	if a > b {
		return b, a
	}
	return a, b
}

// Message is a chat message. The JSON shape is the wire format clients
// receive in message:new events and send acknowledgments.
type Message struct {
	ID          uint64        `json:"id"`
	ChatroomID  uint64        `json:"chatroom_id"`
	Sender      uint64        `json:"sender"`
	Receiver    uint64        `json:"reciever"`
	Message     string        `json:"message"`
	MessageType MessageType   `json:"message_type"`
	Status      MessageStatus `json:"status"`
	Editable    bool          `json:"editable"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}
