package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/noteduco342/om-delivery/internal/logging"
	"github.com/noteduco342/om-delivery/internal/metrics"
	"github.com/noteduco342/om-delivery/internal/models"
	"github.com/noteduco342/om-delivery/internal/store"
)

// A status can rise at most twice (sent -> delivered -> read), so a few
// compare-and-set rounds always settle unless the store misbehaves.
const maxStatusAttempts = 4

// Derive computes the overall status of a message from its required
// recipients and the recorded receipts. Receipts of users outside the roster
// are ignored.
func Derive(roster []uint, receipts map[uint]models.MessageReceipt) models.MessageStatus {
	if len(roster) == 0 {
		return models.StatusDelivered
	}

	allDelivered, allRead := true, true
	for _, id := range roster {
		r, ok := receipts[id]
		if !ok || !r.IsDelivered {
			allDelivered = false
		}
		if !ok || !r.IsRead {
			allRead = false
		}
	}

	switch {
	case allRead:
		return models.StatusRead
	case allDelivered:
		return models.StatusDelivered
	default:
		return models.StatusSent
	}
}

// Aggregator persists the derived overall status of messages.
type Aggregator struct {
	store     store.Store
	roster    Roster
	observers observerSet
}

func NewAggregator(st store.Store, roster Roster, observers ...Observer) *Aggregator {
	return &Aggregator{store: st, roster: roster, observers: observerSet(observers)}
}

// Recalculate re-derives the status of one message from the current roster
// and receipts and stores it if it is higher than the stored one. It returns
// the status stored afterwards. On error the stored status is left as it was.
func (a *Aggregator) Recalculate(ctx context.Context, conversationID string, messageID uint) (models.MessageStatus, error) {
	msg, err := a.store.GetMessage(ctx, conversationID, messageID)
	if err != nil {
		metrics.Recalculations.WithLabelValues("error").Inc()
		return "", err
	}
	if msg.Status.IsTerminal() {
		metrics.Recalculations.WithLabelValues("unchanged").Inc()
		return msg.Status, nil
	}

	roster, err := ActiveParticipants(ctx, a.roster, conversationID, msg.SenderID, msg.CreatedAt)
	if err != nil {
		metrics.Recalculations.WithLabelValues("error").Inc()
		return msg.Status, err
	}
	return a.apply(ctx, msg, roster)
}

// RecalculateMany runs one recalculation pass over messageIDs, reading the
// conversation's participants once. Failures do not stop the pass; they are joined into
// the returned error.
func (a *Aggregator) RecalculateMany(ctx context.Context, conversationID string, messageIDs []uint) (map[uint]models.MessageStatus, error) {
	rosters := newRosterCache(a.roster, conversationID)
	out := make(map[uint]models.MessageStatus, len(messageIDs))
	var errs []error

	for _, id := range messageIDs {
		msg, err := a.store.GetMessage(ctx, conversationID, id)
		if err != nil {
			metrics.Recalculations.WithLabelValues("error").Inc()
			errs = append(errs, err)
			continue
		}
		status, err := a.recalculateMessage(ctx, msg, rosters)
		if err != nil {
			errs = append(errs, err)
		}
		if status != "" {
			out[id] = status
		}
	}
	return out, errors.Join(errs...)
}

func (a *Aggregator) recalculateMessage(ctx context.Context, msg *models.Message, rosters *rosterCache) (models.MessageStatus, error) {
	if msg.Status.IsTerminal() {
		metrics.Recalculations.WithLabelValues("unchanged").Inc()
		return msg.Status, nil
	}
	roster, err := rosters.forMessage(ctx, msg)
	if err != nil {
		metrics.Recalculations.WithLabelValues("error").Inc()
		return msg.Status, err
	}
	return a.apply(ctx, msg, roster)
}

// apply derives the target status for msg and raises the stored status to it.
func (a *Aggregator) apply(ctx context.Context, msg *models.Message, roster []uint) (models.MessageStatus, error) {
	receipts, err := a.store.GetReceipts(ctx, msg.ConversationID, msg.ID)
	if err != nil {
		metrics.Recalculations.WithLabelValues("error").Inc()
		return msg.Status, err
	}
	target := Derive(roster, receipts)
	current := msg.Status

	for attempt := 0; attempt < maxStatusAttempts; attempt++ {
		if target.Rank() <= current.Rank() {
			metrics.Recalculations.WithLabelValues("unchanged").Inc()
			return current, nil
		}

		swapped, err := a.store.PutStatus(ctx, msg.ConversationID, msg.ID, current, target)
		if err != nil {
			metrics.Recalculations.WithLabelValues("error").Inc()
			return current, err
		}
		if swapped {
			metrics.Recalculations.WithLabelValues("written").Inc()
			metrics.StatusWrites.WithLabelValues(string(target)).Inc()

			logging.Ctx(ctx).Debug().
				Str(logging.FieldConversationID, msg.ConversationID).
				Uint(logging.FieldMessageID, msg.ID).
				Str("previous", string(current)).
				Str(logging.FieldStatus, string(target)).
				Msg("message status advanced")

			updated := *msg
			updated.Status = target
			a.observers.statusChanged(ctx, &updated, current)
			return target, nil
		}

		metrics.StatusConflicts.Inc()
		current, err = a.store.GetStatus(ctx, msg.ConversationID, msg.ID)
		if err != nil {
			metrics.Recalculations.WithLabelValues("error").Inc()
			return "", err
		}
	}

	metrics.Recalculations.WithLabelValues("error").Inc()
	return current, fmt.Errorf("%w: status of %s/%d did not settle", models.ErrStoreUnavailable, msg.ConversationID, msg.ID)
}

// rosterCache reads a conversation's participants at most once per pass and
// derives each message's required recipients from them.
type rosterCache struct {
	roster         Roster
	conversationID string
	participants   []Participant
	loaded         bool
}

func newRosterCache(roster Roster, conversationID string) *rosterCache {
	return &rosterCache{roster: roster, conversationID: conversationID}
}

func (c *rosterCache) forMessage(ctx context.Context, msg *models.Message) ([]uint, error) {
	if !c.loaded {
		participants, err := c.roster.Participants(ctx, c.conversationID)
		if err != nil {
			return nil, err
		}
		c.participants, c.loaded = participants, true
	}
	return required(c.conversationID, c.participants, msg.SenderID, msg.CreatedAt)
}
