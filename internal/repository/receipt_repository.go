package repository

import (
	"context"

	"github.com/noteduco342/om-delivery/internal/models"
	"gorm.io/gorm"
)

type ReceiptRepository struct {
	db *gorm.DB
}

func NewReceiptRepository(db *gorm.DB) *ReceiptRepository {
	return &ReceiptRepository{db: db}
}

func (r *ReceiptRepository) ListByMessage(ctx context.Context, messageID uint) ([]models.MessageReceipt, error) {
	var receipts []models.MessageReceipt
	err := r.db.WithContext(ctx).Where("message_id = ?", messageID).Find(&receipts).Error
	return receipts, err
}

func (r *ReceiptRepository) Get(ctx context.Context, messageID, recipientID uint) (*models.MessageReceipt, error) {
	var receipt models.MessageReceipt
	err := r.db.WithContext(ctx).
		Where("message_id = ? AND recipient_id = ?", messageID, recipientID).
		First(&receipt).Error
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

// UpsertMonotonic raises the receipt to level and reports whether a row changed.
// Flags are OR-ed in and timestamps keep their first value, so a stale or
// replayed call can never lower a receipt.
func (r *ReceiptRepository) UpsertMonotonic(ctx context.Context, conversationID string, messageID, recipientID uint, level models.ReceiptLevel) (bool, error) {
	read := level >= models.ReceiptRead
	res := r.db.WithContext(ctx).Exec(`
		INSERT INTO message_receipts (message_id, recipient_id, conversation_id, is_delivered, is_read, delivered_at, read_at, created_at, updated_at)
		VALUES (?, ?, ?, true, ?, NOW(), CASE WHEN ? THEN NOW() END, NOW(), NOW())
		ON CONFLICT (message_id, recipient_id) DO UPDATE
		SET is_delivered = true,
			is_read = message_receipts.is_read OR EXCLUDED.is_read,
			delivered_at = COALESCE(message_receipts.delivered_at, EXCLUDED.delivered_at),
			read_at = COALESCE(message_receipts.read_at, EXCLUDED.read_at),
			updated_at = NOW()
		WHERE message_receipts.is_delivered = false
			OR (EXCLUDED.is_read AND message_receipts.is_read = false)
	`, messageID, recipientID, conversationID, read, read)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
