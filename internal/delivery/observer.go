package delivery

import (
	"context"

	"github.com/noteduco342/om-delivery/internal/models"
)

// Observer is told about every receipt and status change the engine applies.
// Callbacks run synchronously on the writing goroutine and must not block.
type Observer interface {
	ReceiptRecorded(ctx context.Context, message *models.Message, receipt models.MessageReceipt)
	StatusChanged(ctx context.Context, message *models.Message, previous models.MessageStatus)
}

type observerSet []Observer

func (s observerSet) receiptRecorded(ctx context.Context, message *models.Message, receipt models.MessageReceipt) {
	for _, o := range s {
		o.ReceiptRecorded(ctx, message, receipt)
	}
}

func (s observerSet) statusChanged(ctx context.Context, message *models.Message, previous models.MessageStatus) {
	for _, o := range s {
		o.StatusChanged(ctx, message, previous)
	}
}
