// Package delivery tracks per-recipient delivered/read receipts and derives
// each message's single overall status from them.
//
// A Recorder raises receipts, an Aggregator folds the receipts of a message's
// current roster into sent, delivered or read, and a Tracker keeps live
// subscriptions for the messages a client is still waiting on. Direct and
// group conversations share all of it; only the roster differs.
package delivery

import (
	"context"
	"sort"

	"github.com/noteduco342/om-delivery/internal/models"
	"github.com/noteduco342/om-delivery/internal/store"
)

// Engine wires a Recorder and an Aggregator over one store and roster.
type Engine struct {
	store      store.Store
	roster     Roster
	recorder   *Recorder
	aggregator *Aggregator
}

type Option func(*options)

type options struct {
	observers []Observer
}

// WithObserver registers o for receipt and status changes.
func WithObserver(o Observer) Option {
	return func(opts *options) { opts.observers = append(opts.observers, o) }
}

func New(st store.Store, roster Roster, opts ...Option) *Engine {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	aggregator := NewAggregator(st, roster, o.observers...)
	return &Engine{
		store:      st,
		roster:     roster,
		recorder:   NewRecorder(st, roster, aggregator, o.observers...),
		aggregator: aggregator,
	}
}

func (e *Engine) Recorder() *Recorder     { return e.recorder }
func (e *Engine) Aggregator() *Aggregator { return e.aggregator }

func (e *Engine) MarkDelivered(ctx context.Context, conversationID string, messageID, recipientID uint) (RecordResult, error) {
	return e.recorder.RecordDelivered(ctx, conversationID, messageID, recipientID)
}

func (e *Engine) MarkRead(ctx context.Context, conversationID string, messageID, recipientID uint) (RecordResult, error) {
	return e.recorder.RecordRead(ctx, conversationID, messageID, recipientID)
}

func (e *Engine) MarkReadBatch(ctx context.Context, conversationID string, recipientID uint, messageIDs []uint, triggerRecalculation bool) (BatchResult, error) {
	return e.recorder.RecordReadBatch(ctx, conversationID, recipientID, messageIDs, triggerRecalculation)
}

func (e *Engine) Recalculate(ctx context.Context, conversationID string, messageID uint) (models.MessageStatus, error) {
	return e.aggregator.Recalculate(ctx, conversationID, messageID)
}

// NewTracker returns a tracker for one client. The caller closes it.
func (e *Engine) NewTracker() *Tracker {
	return NewTracker(e.store, e.aggregator)
}

// Breakdown returns the stored status of a message with one row per required
// recipient, plus rows for receipts left by users no longer in the roster.
func (e *Engine) Breakdown(ctx context.Context, conversationID string, messageID uint) (*models.StatusBreakdown, error) {
	msg, err := e.store.GetMessage(ctx, conversationID, messageID)
	if err != nil {
		return nil, err
	}
	receipts, err := e.store.GetReceipts(ctx, conversationID, messageID)
	if err != nil {
		return nil, err
	}
	roster, err := ActiveParticipants(ctx, e.roster, conversationID, msg.SenderID, msg.CreatedAt)
	if err != nil {
		return nil, err
	}

	rows := make(map[uint]models.RecipientReceipt, len(roster)+len(receipts))
	for _, id := range roster {
		rows[id] = models.RecipientReceipt{RecipientID: id}
	}
	for id, r := range receipts {
		rows[id] = models.RecipientReceipt{
			RecipientID: id,
			Delivered:   r.IsDelivered,
			Read:        r.IsRead,
			DeliveredAt: r.DeliveredAt,
			ReadAt:      r.ReadAt,
		}
	}

	out := &models.StatusBreakdown{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Status:         msg.Status,
		Recipients:     make([]models.RecipientReceipt, 0, len(rows)),
	}
	for _, row := range rows {
		out.Recipients = append(out.Recipients, row)
	}
	sort.Slice(out.Recipients, func(i, j int) bool {
		return out.Recipients[i].RecipientID < out.Recipients[j].RecipientID
	})
	return out, nil
}
