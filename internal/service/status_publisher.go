package service

import (
	"context"

	"github.com/noteduco342/om-delivery/internal/logging"
	"github.com/noteduco342/om-delivery/internal/models"
)

// EventSender pushes a JSON event to every connection of a user.
type EventSender interface {
	SendToUser(userID uint, data interface{}) error
}

type ReceiptEvent struct {
	ConversationID string                `json:"conversation_id"`
	MessageID      uint                  `json:"message_id"`
	RecipientID    uint                  `json:"recipient_id"`
	Level          string                `json:"level"`
	Receipt        models.MessageReceipt `json:"receipt"`
}

type StatusEvent struct {
	ConversationID string               `json:"conversation_id"`
	MessageID      uint                 `json:"message_id"`
	Status         models.MessageStatus `json:"status"`
	Previous       models.MessageStatus `json:"previous"`
}

// StatusPublisher tells senders about receipts and status changes of their
// messages and drops cached breakdowns that went stale.
type StatusPublisher struct {
	sender      EventSender
	statusCache BreakdownCache
}

func NewStatusPublisher(sender EventSender, statusCache BreakdownCache) *StatusPublisher {
	return &StatusPublisher{sender: sender, statusCache: breakdownCache(statusCache)}
}

func (p *StatusPublisher) ReceiptRecorded(ctx context.Context, message *models.Message, receipt models.MessageReceipt) {
	p.invalidate(ctx, message)
	p.push(ctx, message.SenderID, map[string]interface{}{
		"type": "receipt",
		"payload": ReceiptEvent{
			ConversationID: message.ConversationID,
			MessageID:      message.ID,
			RecipientID:    receipt.RecipientID,
			Level:          receipt.Level().String(),
			Receipt:        receipt,
		},
	})
}

func (p *StatusPublisher) StatusChanged(ctx context.Context, message *models.Message, previous models.MessageStatus) {
	p.invalidate(ctx, message)
	p.push(ctx, message.SenderID, map[string]interface{}{
		"type": "status",
		"payload": StatusEvent{
			ConversationID: message.ConversationID,
			MessageID:      message.ID,
			Status:         message.Status,
			Previous:       previous,
		},
	})
}

func (p *StatusPublisher) invalidate(ctx context.Context, message *models.Message) {
	if err := p.statusCache.Invalidate(ctx, message.ConversationID, message.ID); err != nil {
		logging.Ctx(ctx).Warn().Err(err).
			Str(logging.FieldConversationID, message.ConversationID).
			Uint(logging.FieldMessageID, message.ID).
			Msg("failed to invalidate status cache")
	}
}

func (p *StatusPublisher) push(ctx context.Context, userID uint, event map[string]interface{}) {
	if p.sender == nil {
		return
	}
	if err := p.sender.SendToUser(userID, event); err != nil {
		logging.Ctx(ctx).Debug().Err(err).
			Uint(logging.FieldUserID, userID).
			Msg("status event not pushed")
	}
}
