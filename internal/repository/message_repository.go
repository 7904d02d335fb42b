package repository

import (
	"context"
	"time"

	"github.com/noteduco342/om-delivery/internal/models"
	"gorm.io/gorm"
)

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Create(ctx context.Context, message *models.Message) error {
	return r.db.WithContext(ctx).Create(message).Error
}

func (r *MessageRepository) FindInConversation(ctx context.Context, conversationID string, id uint) (*models.Message, error) {
	var message models.Message
	err := r.db.WithContext(ctx).
		Where("id = ? AND conversation_id = ?", id, conversationID).
		First(&message).Error
	if err != nil {
		return nil, err
	}
	return &message, nil
}

func (r *MessageRepository) FindByClientID(ctx context.Context, clientID string, senderID uint) (*models.Message, error) {
	var message models.Message
	err := r.db.WithContext(ctx).
		Where("client_id = ? AND sender_id = ?", clientID, senderID).
		First(&message).Error
	if err != nil {
		return nil, err
	}
	return &message, nil
}

// ListOutstanding returns the conversation's messages that have not reached read.
func (r *MessageRepository) ListOutstanding(ctx context.Context, conversationID string) ([]models.Message, error) {
	var messages []models.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND status <> ?", conversationID, models.StatusRead).
		Order("id ASC").
		Find(&messages).Error
	return messages, err
}

// ListUnreadFor returns ids of messages from others that recipientID has not
// read yet, sent at or after since when since is set.
func (r *MessageRepository) ListUnreadFor(ctx context.Context, conversationID string, recipientID uint, since time.Time) ([]uint, error) {
	var ids []uint
	q := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Joins("LEFT JOIN message_receipts mr ON mr.message_id = messages.id AND mr.recipient_id = ?", recipientID).
		Where("messages.conversation_id = ? AND messages.sender_id <> ?", conversationID, recipientID).
		Where("mr.is_read IS NULL OR mr.is_read = false")
	if !since.IsZero() {
		q = q.Where("messages.created_at >= ?", since)
	}
	err := q.Order("messages.id ASC").Pluck("messages.id", &ids).Error
	return ids, err
}

// CompareAndSetStatus writes next only while the stored status still equals expected.
func (r *MessageRepository) CompareAndSetStatus(ctx context.Context, id uint, expected, next models.MessageStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(map[string]interface{}{
			"status":     next,
			"updated_at": gorm.Expr("NOW()"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
