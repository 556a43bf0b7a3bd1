package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// WebSocket events from client.
const (
	EventJoin          = "join"
	EventTyping        = "typing"
	EventMessageSend   = "message:send"
	EventMessageRead   = "message:read"
	EventMessageDelete = "message:delete"
	EventPing          = "ping"
)

// WebSocket events to client.
const (
	EventJoined           = "joined"
	EventAck              = "ack"
	EventMessageNew       = "message:new"
	EventMessageDelivered = "message:delivered"
	EventMessageDeleted   = "message:deleted"
	EventPresenceOnline   = "presence:online"
	EventPresenceOffline  = "presence:offline"
	EventError            = "error"
	EventPong             = "pong"
)

// Envelope frames every inbound WebSocket message. Ref is an optional
// client correlation id echoed on the acknowledgment.
type Envelope struct {
	Event string          `json:"event"`
	Ref   string          `json:"ref,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Outbound frames every message sent to a client.
type Outbound struct {
	Event string      `json:"event"`
	Ref   string      `json:"ref,omitempty"`
	Data  interface{} `json:"data,omitempty"`
}

// NewOutbound wraps data in an outbound frame.
func NewOutbound(event string, data interface{}) *Outbound {
	return &Outbound{Event: event, Data: data}
}

// ExternalID is a member id supplied by clients. It accepts both JSON
// strings and numbers.
type ExternalID string

func (e *ExternalID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*e = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*e = ExternalID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("external id must be a string or number: %w", err)
	}
	*e = ExternalID(n.String())
	return nil
}

func (e ExternalID) String() string {
	return string(e)
}

// Client -> Server payloads

type DeviceInfo struct {
	Token      string `json:"token" binding:"required" validate:"required"`
	DeviceName string `json:"device_name"`
	DeviceID   string `json:"device_id" binding:"required" validate:"required"`
	TokenType  string `json:"token_type" binding:"required" validate:"required"`
}

type JoinRequest struct {
	UserID   ExternalID  `json:"userId" validate:"required"`
	Name     string      `json:"name"`
	AppName  string      `json:"appName"`
	Device   *DeviceInfo `json:"device,omitempty" validate:"omitempty"`
	ChatID   ExternalID  `json:"chatId,omitempty"`
	ChatType ChatType    `json:"chat_type,omitempty"`
}

type TypingRequest struct {
	From     uint64     `json:"from"`
	To       ExternalID `json:"to" validate:"required"`
	IsTyping bool       `json:"isTyping"`
}

type Recipient struct {
	UserID ExternalID `json:"userId" validate:"required"`
}

type SendRequest struct {
	To       Recipient   `json:"to"`
	Message  string      `json:"message" validate:"required"`
	From     uint64      `json:"from"`
	Type     MessageType `json:"type" validate:"required"`
	ChatType ChatType    `json:"chatType" validate:"required"`
	RoomID   uint64      `json:"roomId,omitempty"`
}

type ReadRequest struct {
	MessageID uint64 `json:"messageId" validate:"required"`
	Reciever  uint64 `json:"reciever"`
	Sender    uint64 `json:"sender"`
	RoomID    uint64 `json:"roomId" validate:"required"`
}

type DeleteRequest struct {
	MessageID uint64 `json:"messageId" validate:"required"`
	RoomID    uint64 `json:"roomId" validate:"required"`
	UserID    uint64 `json:"userId"`
}

// RegisterDeviceRequest is the body of POST /api/v1/devices.
type RegisterDeviceRequest struct {
	UserID string `json:"userId" binding:"required"`
	DeviceInfo
}

// Server -> Client payloads

type JoinedPayload struct {
	UserID uint64  `json:"userId"`
	RoomID *uint64 `json:"roomId"`
}

type PresencePayload struct {
	UserID uint64 `json:"userId"`
}

type TypingPayload struct {
	From     uint64 `json:"from"`
	To       uint64 `json:"to"`
	IsTyping bool   `json:"isTyping"`
}

type DeliveredPayload struct {
	MessageID uint64    `json:"messageId"`
	To        Recipient `json:"to"`
}

type ReadPayload struct {
	MessageID uint64 `json:"messageId"`
	Sender    uint64 `json:"sender"`
}

type DeletedPayload struct {
	ID         uint64        `json:"id"`
	ChatroomID uint64        `json:"chatroom_id"`
	Status     MessageStatus `json:"status"`
}

type AckPayload struct {
	OK      bool     `json:"ok"`
	Message *Message `json:"message,omitempty"`
	Reason  string   `json:"reason,omitempty"`
	Code    string   `json:"code,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewErrorMessage(code, message string) *Outbound {
	return NewOutbound(EventError, &ErrorPayload{Code: code, Message: message})
}

func NewAck(ref string, msg *Message) *Outbound {
	return &Outbound{
		Event: EventAck,
		Ref:   ref,
		Data:  &AckPayload{OK: true, Message: msg},
	}
}

func NewNack(ref string, err error) *Outbound {
	return &Outbound{
		Event: EventAck,
		Ref:   ref,
		Data: &AckPayload{
			OK:     false,
			Reason: Reason(err),
			Code:   ErrorCode(err),
		},
	}
}

// FormatID renders a numeric id for log fields and cache keys.
func FormatID(id uint64) string {
	return strconv.FormatUint(id, 10)
}
