package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/noteduco342/om-delivery/internal/logging"
	"github.com/noteduco342/om-delivery/internal/models"
	"github.com/noteduco342/om-delivery/internal/repository"
	"gorm.io/gorm"
)

// GormStore persists messages and receipts in Postgres and publishes changes
// through a Notifier (Redis in production).
type GormStore struct {
	messages repository.MessageRepositoryInterface
	receipts repository.ReceiptRepositoryInterface
	notifier Notifier
	buffer   int
}

func NewGormStore(
	messages repository.MessageRepositoryInterface,
	receipts repository.ReceiptRepositoryInterface,
	notifier Notifier,
	buffer int,
) *GormStore {
	if notifier == nil {
		notifier = NewLocalNotifier()
	}
	if buffer < 1 {
		buffer = 64
	}
	return &GormStore{
		messages: messages,
		receipts: receipts,
		notifier: notifier,
		buffer:   buffer,
	}
}

// translate maps repository errors onto the store's error taxonomy.
func translate(err error, conversationID string, messageID uint) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: %s/%d", models.ErrMessageNotFound, conversationID, messageID)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
}

func (s *GormStore) CreateMessage(ctx context.Context, message *models.Message) error {
	if message.Status == "" {
		message.Status = models.StatusSent
	}
	if err := s.messages.Create(ctx, message); err != nil {
		return translate(err, message.ConversationID, message.ID)
	}

	err := s.notifier.Publish(ctx, ConversationChannel(message.ConversationID), Event{
		Kind:           EventMessageSent,
		ConversationID: message.ConversationID,
		MessageID:      message.ID,
		SenderID:       message.SenderID,
	})
	if err != nil {
		// The message is stored; trackers pick it up on their next Start.
		logging.Ctx(ctx).Warn().Err(err).
			Str(logging.FieldConversationID, message.ConversationID).
			Uint(logging.FieldMessageID, message.ID).
			Msg("failed to announce new message")
	}
	return nil
}

func (s *GormStore) FindByClientID(ctx context.Context, senderID uint, clientID string) (*models.Message, error) {
	msg, err := s.messages.FindByClientID(ctx, clientID, senderID)
	if err != nil {
		return nil, translate(err, "", 0)
	}
	return msg, nil
}

func (s *GormStore) GetMessage(ctx context.Context, conversationID string, messageID uint) (*models.Message, error) {
	msg, err := s.messages.FindInConversation(ctx, conversationID, messageID)
	if err != nil {
		return nil, translate(err, conversationID, messageID)
	}
	return msg, nil
}

func (s *GormStore) ListOutstanding(ctx context.Context, conversationID string) ([]models.Message, error) {
	msgs, err := s.messages.ListOutstanding(ctx, conversationID)
	return msgs, translate(err, conversationID, 0)
}

func (s *GormStore) ListUnreadFor(ctx context.Context, conversationID string, recipientID uint, since time.Time) ([]uint, error) {
	ids, err := s.messages.ListUnreadFor(ctx, conversationID, recipientID, since)
	return ids, translate(err, conversationID, 0)
}

func (s *GormStore) GetReceipts(ctx context.Context, conversationID string, messageID uint) (map[uint]models.MessageReceipt, error) {
	if _, err := s.GetMessage(ctx, conversationID, messageID); err != nil {
		return nil, err
	}
	rows, err := s.receipts.ListByMessage(ctx, messageID)
	if err != nil {
		return nil, translate(err, conversationID, messageID)
	}
	out := make(map[uint]models.MessageReceipt, len(rows))
	for _, r := range rows {
		out[r.RecipientID] = r
	}
	return out, nil
}

func (s *GormStore) GetReceipt(ctx context.Context, conversationID string, messageID, recipientID uint) (models.MessageReceipt, bool, error) {
	if _, err := s.GetMessage(ctx, conversationID, messageID); err != nil {
		return models.MessageReceipt{}, false, err
	}
	r, err := s.receipts.Get(ctx, messageID, recipientID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.MessageReceipt{}, false, nil
	}
	if err != nil {
		return models.MessageReceipt{}, false, translate(err, conversationID, messageID)
	}
	return *r, true, nil
}

func (s *GormStore) PutReceipt(ctx context.Context, conversationID string, messageID, recipientID uint, level models.ReceiptLevel) (bool, error) {
	changed, err := s.receipts.UpsertMonotonic(ctx, conversationID, messageID, recipientID, level)
	if err != nil {
		return false, translate(err, conversationID, messageID)
	}
	if !changed {
		return false, nil
	}

	// Re-read so the event carries the merged flags, not just the requested level.
	event := Event{
		Kind:           EventReceipt,
		ConversationID: conversationID,
		MessageID:      messageID,
		RecipientID:    recipientID,
		Delivered:      true,
		Read:           level >= models.ReceiptRead,
	}
	if r, err := s.receipts.Get(ctx, messageID, recipientID); err == nil {
		event.Delivered, event.Read = r.IsDelivered, r.IsRead
	}
	if err := s.notifier.Publish(ctx, ReceiptChannel(conversationID, messageID), event); err != nil {
		logging.Ctx(ctx).Warn().Err(err).
			Str(logging.FieldConversationID, conversationID).
			Uint(logging.FieldMessageID, messageID).
			Msg("failed to publish receipt change")
	}
	return true, nil
}

func (s *GormStore) GetStatus(ctx context.Context, conversationID string, messageID uint) (models.MessageStatus, error) {
	msg, err := s.GetMessage(ctx, conversationID, messageID)
	if err != nil {
		return "", err
	}
	return msg.Status, nil
}

func (s *GormStore) PutStatus(ctx context.Context, conversationID string, messageID uint, expected, next models.MessageStatus) (bool, error) {
	swapped, err := s.messages.CompareAndSetStatus(ctx, messageID, expected, next)
	if err != nil {
		return false, translate(err, conversationID, messageID)
	}
	return swapped, nil
}

func (s *GormStore) Subscribe(ctx context.Context, conversationID string, messageID uint) (*Subscription, error) {
	channel := ReceiptChannel(conversationID, messageID)
	stream, err := s.notifier.Subscribe(ctx, channel, s.buffer)
	if err != nil {
		return nil, err
	}
	return NewSubscription(uuid.NewString(), conversationID, messageID, channel, stream), nil
}

func (s *GormStore) SubscribeConversation(ctx context.Context, conversationID string) (*Subscription, error) {
	channel := ConversationChannel(conversationID)
	stream, err := s.notifier.Subscribe(ctx, channel, s.buffer)
	if err != nil {
		return nil, err
	}
	return NewSubscription(uuid.NewString(), conversationID, 0, channel, stream), nil
}

func (s *GormStore) Unsubscribe(sub *Subscription) {
	sub.Close()
}
