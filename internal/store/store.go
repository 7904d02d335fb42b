// Package store defines the status store the delivery engine is written against
// and provides its in-memory and Postgres/Redis implementations.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/noteduco342/om-delivery/internal/models"
)

// Store is the durable per-message, per-recipient status store with change notifications.
//
// PutReceipt only ever raises a receipt and reports whether it changed anything.
// PutStatus is a compare-and-set against the stored status. Transient backend
// failures are reported wrapped in models.ErrStoreUnavailable and leave no partial write.
type Store interface {
	CreateMessage(ctx context.Context, message *models.Message) error
	FindByClientID(ctx context.Context, senderID uint, clientID string) (*models.Message, error)
	GetMessage(ctx context.Context, conversationID string, messageID uint) (*models.Message, error)
	ListOutstanding(ctx context.Context, conversationID string) ([]models.Message, error)
	// ListUnreadFor lists messages from others that recipientID has not read,
	// skipping those sent before since. A zero since skips nothing.
	ListUnreadFor(ctx context.Context, conversationID string, recipientID uint, since time.Time) ([]uint, error)

	GetReceipts(ctx context.Context, conversationID string, messageID uint) (map[uint]models.MessageReceipt, error)
	GetReceipt(ctx context.Context, conversationID string, messageID, recipientID uint) (models.MessageReceipt, bool, error)
	PutReceipt(ctx context.Context, conversationID string, messageID, recipientID uint, level models.ReceiptLevel) (bool, error)

	GetStatus(ctx context.Context, conversationID string, messageID uint) (models.MessageStatus, error)
	PutStatus(ctx context.Context, conversationID string, messageID uint, expected, next models.MessageStatus) (bool, error)

	Subscribe(ctx context.Context, conversationID string, messageID uint) (*Subscription, error)
	SubscribeConversation(ctx context.Context, conversationID string) (*Subscription, error)
	Unsubscribe(sub *Subscription)
}

type EventKind string

const (
	EventReceipt     EventKind = "receipt"
	EventMessageSent EventKind = "message_sent"
)

// Event is a change notification. Receipt events carry the receipt flags after the change.
type Event struct {
	Kind           EventKind `msgpack:"kind"`
	ConversationID string    `msgpack:"conversation_id"`
	MessageID      uint      `msgpack:"message_id"`
	SenderID       uint      `msgpack:"sender_id,omitempty"`
	RecipientID    uint      `msgpack:"recipient_id,omitempty"`
	Delivered      bool      `msgpack:"delivered,omitempty"`
	Read           bool      `msgpack:"read,omitempty"`
}

// ReceiptChannel is the notification channel of one message's receipts.
func ReceiptChannel(conversationID string, messageID uint) string {
	return fmt.Sprintf("receipts:%s:%d", conversationID, messageID)
}

// ConversationChannel carries message-sent events of a conversation.
func ConversationChannel(conversationID string) string {
	return "conversation:" + conversationID
}

// Subscription is a handle on one notification stream. Events is closed once
// the subscription is released. Lagged fires when events were dropped because
// the subscriber fell behind; the current state must then be reread.
type Subscription struct {
	ID             string
	ConversationID string
	MessageID      uint
	Channel        string
	Events         <-chan Event
	Lagged         <-chan struct{}

	cancel func()
	once   sync.Once
}

func NewSubscription(id, conversationID string, messageID uint, channel string, stream *Stream) *Subscription {
	return &Subscription{
		ID:             id,
		ConversationID: conversationID,
		MessageID:      messageID,
		Channel:        channel,
		Events:         stream.Events,
		Lagged:         stream.Lagged,
		cancel:         stream.Cancel,
	}
}

// Close releases the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}
