package domain

import (
	"time"
)

// UserModel is the GORM model for the users table.
type UserModel struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	MemberID  string    `gorm:"type:varchar(128);uniqueIndex;not null"`
	Name      string    `gorm:"type:varchar(255)"`
	AppName   string    `gorm:"type:varchar(128)"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (UserModel) TableName() string {
	return "users"
}

func (m *UserModel) ToDomain() *User {
	return &User{
		ID:        m.ID,
		MemberID:  m.MemberID,
		Name:      m.Name,
		AppName:   m.AppName,
		CreatedAt: m.CreatedAt,
	}
}

// DeviceModel is the GORM model for the devices table.
type DeviceModel struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement"`
	UserID     uint64    `gorm:"uniqueIndex:idx_devices_user_device;not null"`
	DeviceID   string    `gorm:"type:varchar(191);uniqueIndex:idx_devices_user_device;not null"`
	DeviceName string    `gorm:"type:varchar(255)"`
	Token      string    `gorm:"type:varchar(512);not null"`
	TokenType  string    `gorm:"type:varchar(32);not null"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
}

func (DeviceModel) TableName() string {
	return "devices"
}

func (m *DeviceModel) ToDomain() *Device {
	return &Device{
		ID:         m.ID,
		UserID:     m.UserID,
		DeviceID:   m.DeviceID,
		DeviceName: m.DeviceName,
		Token:      m.Token,
		TokenType:  m.TokenType,
		UpdatedAt:  m.UpdatedAt,
	}
}

func DeviceToModel(d *Device) *DeviceModel {
	return &DeviceModel{
		ID:         d.ID,
		UserID:     d.UserID,
		DeviceID:   d.DeviceID,
		DeviceName: d.DeviceName,
		Token:      d.Token,
		TokenType:  d.TokenType,
	}
}

// ChatroomModel is the GORM model for the chatrooms table. The pair is
// stored ordered so the unique index covers the unordered pair.
type ChatroomModel struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	ChatType  string    `gorm:"type:varchar(32);uniqueIndex:idx_chatrooms_pair;not null"`
	User1ID   uint64    `gorm:"uniqueIndex:idx_chatrooms_pair;not null"`
	User2ID   uint64    `gorm:"uniqueIndex:idx_chatrooms_pair;index;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (ChatroomModel) TableName() string {
	return "chatrooms"
}

func (m *ChatroomModel) ToDomain() *Chatroom {
	return &Chatroom{
		ID:        m.ID,
		ChatType:  ChatType(m.ChatType),
		User1ID:   m.User1ID,
		User2ID:   m.User2ID,
		CreatedAt: m.CreatedAt,
	}
}

// MessageModel is the GORM model for the messages table.
type MessageModel struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement"`
	ChatroomID  uint64    `gorm:"index:idx_messages_room_to;not null"`
	FromUserID  uint64    `gorm:"index;not null"`
	ToUserID    uint64    `gorm:"index:idx_messages_room_to;not null"`
	Message     string    `gorm:"type:text"`
	MessageType string    `gorm:"type:varchar(16);not null;default:'text'"`
	Status      string    `gorm:"type:varchar(16);index;not null;default:'sent'"`
	Editable    bool      `gorm:"not null;default:false"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

func (MessageModel) TableName() string {
	return "messages"
}

func (m *MessageModel) ToDomain() *Message {
	return &Message{
		ID:          m.ID,
		ChatroomID:  m.ChatroomID,
		Sender:      m.FromUserID,
		Receiver:    m.ToUserID,
		Message:     m.Message,
		MessageType: MessageType(m.MessageType),
		Status:      MessageStatus(m.Status),
		Editable:    m.Editable,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func MessageToModel(msg *Message) *MessageModel {
	return &MessageModel{
		ID:          msg.ID,
		ChatroomID:  msg.ChatroomID,
		FromUserID:  msg.Sender,
		ToUserID:    msg.Receiver,
		Message:     msg.Message,
		MessageType: string(msg.MessageType),
		Status:      string(msg.Status),
		Editable:    msg.Editable,
		CreatedAt:   msg.CreatedAt,
		UpdatedAt:   msg.UpdatedAt,
	}
}

// Models lists every model for auto-migration.
func Models() []interface{} {
	return []interface{}{
		&UserModel{},
		&DeviceModel{},
		&ChatroomModel{},
		&MessageModel{},
	}
}
