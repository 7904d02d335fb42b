package models

import (
	"time"
)

// ReceiptLevel is how far a single recipient has acknowledged a message.
type ReceiptLevel int

const (
	ReceiptNone ReceiptLevel = iota
	ReceiptDelivered
	ReceiptRead
)

func (l ReceiptLevel) String() string {
	switch l {
	case ReceiptDelivered:
		return "delivered"
	case ReceiptRead:
		return "read"
	default:
		return "none"
	}
}

// Covers reports whether a receipt at level l already satisfies other.
func (l ReceiptLevel) Covers(other ReceiptLevel) bool {
	return l >= other
}

// MessageReceipt is one recipient's acknowledgment of one message.
// Both flags are monotonic: once true they are never reset, and read implies delivered.
type MessageReceipt struct {
	MessageID      uint       `gorm:"primaryKey;autoIncrement:false" json:"message_id" msgpack:"message_id"`
	RecipientID    uint       `gorm:"primaryKey;autoIncrement:false" json:"recipient_id" msgpack:"recipient_id"`
	ConversationID string     `gorm:"type:varchar(64);not null;index" json:"conversation_id" msgpack:"conversation_id"`
	IsDelivered    bool       `gorm:"not null;default:false" json:"is_delivered" msgpack:"is_delivered"`
	IsRead         bool       `gorm:"not null;default:false" json:"is_read" msgpack:"is_read"`
	DeliveredAt    *time.Time `json:"delivered_at" msgpack:"delivered_at"`
	ReadAt         *time.Time `json:"read_at" msgpack:"read_at"`
	CreatedAt      time.Time  `json:"created_at" msgpack:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" msgpack:"updated_at"`
}

func (r MessageReceipt) Level() ReceiptLevel {
	switch {
	case r.IsRead:
		return ReceiptRead
	case r.IsDelivered:
		return ReceiptDelivered
	default:
		return ReceiptNone
	}
}

// Upgrade returns the receipt raised to level and whether anything changed.
// It never lowers a flag.
func (r MessageReceipt) Upgrade(level ReceiptLevel, at time.Time) (MessageReceipt, bool) {
	changed := false
	if level >= ReceiptDelivered && !r.IsDelivered {
		r.IsDelivered = true
		r.DeliveredAt = &at
		changed = true
	}
	if level >= ReceiptRead && !r.IsRead {
		r.IsRead = true
		r.ReadAt = &at
		changed = true
	}
	if changed {
		r.UpdatedAt = at
	}
	return r, changed
}

// RecipientReceipt is the per-recipient row of a status breakdown.
type RecipientReceipt struct {
	RecipientID uint       `json:"recipient_id" msgpack:"recipient_id"`
	Delivered   bool       `json:"delivered" msgpack:"delivered"`
	Read        bool       `json:"read" msgpack:"read"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty" msgpack:"delivered_at"`
	ReadAt      *time.Time `json:"read_at,omitempty" msgpack:"read_at"`
}

// StatusBreakdown backs "seen by" displays: the overall status plus every recipient's receipt.
type StatusBreakdown struct {
	MessageID      uint               `json:"message_id" msgpack:"message_id"`
	ConversationID string             `json:"conversation_id" msgpack:"conversation_id"`
	SenderID       uint               `json:"sender_id" msgpack:"sender_id"`
	Status         MessageStatus      `json:"status" msgpack:"status"`
	Recipients     []RecipientReceipt `json:"recipients" msgpack:"recipients"`
}
