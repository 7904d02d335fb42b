package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/noteduco342/om-delivery/internal/logging"
	"github.com/noteduco342/om-delivery/internal/metrics"
	"github.com/noteduco342/om-delivery/internal/models"
	"github.com/noteduco342/om-delivery/internal/store"
)

var ErrInvalidReceiptLevel = errors.New("invalid receipt level")

type RecordOptions struct {
	// SkipRecalculation leaves the overall status alone; the caller
	// recalculates itself after a bulk update.
	SkipRecalculation bool
}

type RecordResult struct {
	MessageID uint                  `json:"message_id"`
	Changed   bool                  `json:"changed"`
	Receipt   models.MessageReceipt `json:"receipt"`
	// Status is the stored overall status after the call.
	Status models.MessageStatus `json:"status"`
}

type BatchResult struct {
	// Changed lists the messages whose receipt was raised, in request order.
	Changed  []uint                        `json:"changed"`
	Statuses map[uint]models.MessageStatus `json:"statuses"`
}

// Recorder applies recipients' delivered/read acknowledgments.
type Recorder struct {
	store      store.Store
	roster     Roster
	aggregator *Aggregator
	observers  observerSet
	now        func() time.Time
}

func NewRecorder(st store.Store, roster Roster, aggregator *Aggregator, observers ...Observer) *Recorder {
	return &Recorder{
		store:      st,
		roster:     roster,
		aggregator: aggregator,
		observers:  observerSet(observers),
		now:        time.Now,
	}
}

func (r *Recorder) RecordDelivered(ctx context.Context, conversationID string, messageID, recipientID uint) (RecordResult, error) {
	return r.Record(ctx, conversationID, messageID, recipientID, models.ReceiptDelivered, RecordOptions{})
}

// RecordRead marks the message read, which also marks it delivered.
func (r *Recorder) RecordRead(ctx context.Context, conversationID string, messageID, recipientID uint) (RecordResult, error) {
	return r.Record(ctx, conversationID, messageID, recipientID, models.ReceiptRead, RecordOptions{})
}

// Record raises recipientID's receipt for the message to level. A receipt
// already at or above level is left untouched and nothing is written.
func (r *Recorder) Record(ctx context.Context, conversationID string, messageID, recipientID uint, level models.ReceiptLevel, opts RecordOptions) (RecordResult, error) {
	if level != models.ReceiptDelivered && level != models.ReceiptRead {
		return RecordResult{}, fmt.Errorf("%w: %d", ErrInvalidReceiptLevel, level)
	}

	msg, err := r.store.GetMessage(ctx, conversationID, messageID)
	if err != nil {
		return RecordResult{}, err
	}
	rosters := newRosterCache(r.roster, conversationID)
	roster, err := r.participants(ctx, rosters, msg, recipientID)
	if err != nil {
		return RecordResult{}, err
	}

	res, err := r.record(ctx, msg, recipientID, level)
	if err != nil || !res.Changed || opts.SkipRecalculation {
		return res, err
	}

	status, err := r.aggregator.apply(ctx, msg, roster)
	r.afterRecalculation(ctx, msg, status, err, &res)
	return res, nil
}

// RecordReadBatch marks every message in messageIDs read for recipientID.
// With triggerRecalculation each changed message is recalculated right away;
// without it the changed set gets a single recalculation pass once every
// receipt is written. Per-message failures do not stop the batch.
func (r *Recorder) RecordReadBatch(ctx context.Context, conversationID string, recipientID uint, messageIDs []uint, triggerRecalculation bool) (BatchResult, error) {
	rosters := newRosterCache(r.roster, conversationID)
	result := BatchResult{Statuses: make(map[uint]models.MessageStatus, len(messageIDs))}
	var changed []*models.Message
	var errs []error

	seen := make(map[uint]bool, len(messageIDs))
	for _, id := range messageIDs {
		if seen[id] {
			continue
		}
		seen[id] = true

		msg, err := r.store.GetMessage(ctx, conversationID, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		roster, err := r.participants(ctx, rosters, msg, recipientID)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		res, err := r.record(ctx, msg, recipientID, models.ReceiptRead)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		result.Statuses[id] = res.Status
		if !res.Changed {
			continue
		}
		result.Changed = append(result.Changed, id)

		if triggerRecalculation {
			status, err := r.aggregator.apply(ctx, msg, roster)
			r.afterRecalculation(ctx, msg, status, err, &res)
			result.Statuses[id] = res.Status
			continue
		}
		changed = append(changed, msg)
	}

	for _, msg := range changed {
		status, err := r.aggregator.recalculateMessage(ctx, msg, rosters)
		if err != nil {
			errs = append(errs, err)
		}
		if status != "" {
			result.Statuses[msg.ID] = status
		}
	}

	return result, errors.Join(errs...)
}

// participants checks that recipientID may acknowledge msg and returns the roster.
func (r *Recorder) participants(ctx context.Context, rosters *rosterCache, msg *models.Message, recipientID uint) ([]uint, error) {
	if recipientID == msg.SenderID {
		return nil, fmt.Errorf("%w: %d sent message %d", models.ErrNotAParticipant, recipientID, msg.ID)
	}
	roster, err := rosters.forMessage(ctx, msg)
	if err != nil {
		return nil, err
	}
	// Members who joined after the message was sent are not among its recipients.
	if !contains(roster, recipientID) {
		return nil, fmt.Errorf("%w: %d in %s", models.ErrNotAParticipant, recipientID, msg.ConversationID)
	}
	return roster, nil
}

func (r *Recorder) record(ctx context.Context, msg *models.Message, recipientID uint, level models.ReceiptLevel) (RecordResult, error) {
	res := RecordResult{MessageID: msg.ID, Status: msg.Status}

	current, found, err := r.store.GetReceipt(ctx, msg.ConversationID, msg.ID, recipientID)
	if err != nil {
		return res, err
	}
	if !found {
		current = models.MessageReceipt{
			MessageID:      msg.ID,
			RecipientID:    recipientID,
			ConversationID: msg.ConversationID,
		}
	}
	res.Receipt = current
	if current.Level().Covers(level) {
		return res, nil
	}

	changed, err := r.store.PutReceipt(ctx, msg.ConversationID, msg.ID, recipientID, level)
	if err != nil {
		return res, err
	}
	if !changed {
		// Another writer got there first.
		return res, nil
	}

	metrics.ReceiptWrites.WithLabelValues(level.String()).Inc()
	res.Receipt, _ = current.Upgrade(level, r.now())
	res.Changed = true
	r.observers.receiptRecorded(ctx, msg, res.Receipt)
	return res, nil
}

// afterRecalculation folds a recalculation outcome into res. The receipt is
// already stored at this point, so a failed recalculation is logged and left
// for the next trigger instead of failing the call.
func (r *Recorder) afterRecalculation(ctx context.Context, msg *models.Message, status models.MessageStatus, err error, res *RecordResult) {
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).
			Str(logging.FieldConversationID, msg.ConversationID).
			Uint(logging.FieldMessageID, msg.ID).
			Msg("status recalculation failed")
		return
	}
	res.Status = status
}
