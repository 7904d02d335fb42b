package models

import (
	"time"
)

type MessageType string

const (
	TextMessage  MessageType = "text"
	ImageMessage MessageType = "image"
	FileMessage  MessageType = "file"
)

// MessageStatus is the single group-visible status of a message.
// It only moves forward: sent -> delivered -> read.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

// Rank orders statuses so that a higher rank never gets overwritten by a lower one.
// Unknown values rank below sent.
func (s MessageStatus) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return 0
	}
}

// IsTerminal reports whether no further recalculation can change the status.
func (s MessageStatus) IsTerminal() bool {
	return s == StatusRead
}

func (s MessageStatus) Valid() bool {
	return s.Rank() > 0
}

func ParseMessageStatus(v string) (MessageStatus, bool) {
	s := MessageStatus(v)
	return s, s.Valid()
}

type Message struct {
	ID        uint      `gorm:"primarykey" json:"id" msgpack:"id"`
	CreatedAt time.Time `json:"created_at" msgpack:"created_at"`
	UpdatedAt time.Time `json:"updated_at" msgpack:"updated_at"`

	ConversationID string `gorm:"type:varchar(64);not null;index:idx_conversation_status" json:"conversation_id" msgpack:"conversation_id"`

	// Client-side tracking
	ClientID string `gorm:"type:varchar(36);uniqueIndex:idx_client_sender;not null" json:"client_id" msgpack:"client_id"` // UUID for deduplication

	SenderID    uint  `gorm:"not null;uniqueIndex:idx_client_sender;index" json:"sender_id" msgpack:"sender_id"`
	RecipientID *uint `gorm:"index" json:"recipient_id" msgpack:"recipient_id"` // null for group messages
	GroupID     *uint `gorm:"index" json:"group_id" msgpack:"group_id"`         // null for direct messages

	Content     string      `gorm:"type:text;not null" json:"content" msgpack:"content"`
	MessageType MessageType `gorm:"type:varchar(20);default:'text'" json:"message_type" msgpack:"message_type"`

	// Only the aggregator writes this column after creation.
	Status MessageStatus `gorm:"type:varchar(20);default:'sent';index:idx_conversation_status" json:"status" msgpack:"status"`
}

type MessageResponse struct {
	ID             uint          `json:"id"`
	ConversationID string        `json:"conversation_id"`
	ClientID       string        `json:"client_id"`
	SenderID       uint          `json:"sender_id"`
	RecipientID    *uint         `json:"recipient_id"`
	GroupID        *uint         `json:"group_id"`
	Content        string        `json:"content"`
	MessageType    MessageType   `json:"message_type"`
	Status         MessageStatus `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
}

func (m *Message) ToResponse() MessageResponse {
	return MessageResponse{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		ClientID:       m.ClientID,
		SenderID:       m.SenderID,
		RecipientID:    m.RecipientID,
		GroupID:        m.GroupID,
		Content:        m.Content,
		MessageType:    m.MessageType,
		Status:         m.Status,
		CreatedAt:      m.CreatedAt,
	}
}
