package delivery

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/noteduco342/om-delivery/internal/logging"
	"github.com/noteduco342/om-delivery/internal/metrics"
	"github.com/noteduco342/om-delivery/internal/models"
	"github.com/noteduco342/om-delivery/internal/store"
	"github.com/rs/zerolog"
)

var ErrTrackerClosed = errors.New("tracker closed")

// Tracker owns the tracking sessions of one client: for every conversation it
// tracks, it holds a receipt subscription per outstanding message and
// recalculates the message's status whenever a receipt changes. A message's
// subscription is released as soon as its status is read.
type Tracker struct {
	id         string
	store      store.Store
	aggregator *Aggregator
	log        zerolog.Logger

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
}

type session struct {
	conversationID string
	ctx            context.Context
	cancel         context.CancelFunc

	mu      sync.Mutex
	stopped bool
	feed    *store.Subscription
	subs    map[uint]*store.Subscription
}

func NewTracker(st store.Store, aggregator *Aggregator) *Tracker {
	base, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	return &Tracker{
		id:         id,
		store:      st,
		aggregator: aggregator,
		log:        logging.Component("tracker").With().Str("tracker_id", id).Logger(),
		base:       base,
		cancel:     cancel,
		sessions:   make(map[string]*session),
	}
}

func (t *Tracker) ID() string { return t.id }

// Start begins tracking a conversation: every message that is not read yet is
// watched, and so is every message sent to the conversation from now on.
// Starting a conversation that is already tracked does nothing.
func (t *Tracker) Start(ctx context.Context, conversationID string) error {
	if _, err := models.ParseConversationID(conversationID); err != nil {
		return err
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTrackerClosed
	}
	if _, ok := t.sessions[conversationID]; ok {
		t.mu.Unlock()
		return nil
	}
	sctx, cancel := context.WithCancel(logging.WithLogger(t.base, t.log))
	s := &session{
		conversationID: conversationID,
		ctx:            sctx,
		cancel:         cancel,
		subs:           make(map[uint]*store.Subscription),
	}
	t.sessions[conversationID] = s
	t.mu.Unlock()
	metrics.ActiveSessions.Inc()

	// Subscribe to new sends before listing so nothing slips in between.
	feed, err := t.store.SubscribeConversation(ctx, conversationID)
	if err != nil {
		t.Stop(conversationID)
		return err
	}
	if !s.setFeed(feed, &t.wg) {
		feed.Close()
		return nil
	}
	go t.followConversation(s, feed)

	outstanding, err := t.watchOutstanding(ctx, s)
	if err != nil {
		t.Stop(conversationID)
		return err
	}

	t.log.Debug().
		Str(logging.FieldConversationID, conversationID).
		Int("outstanding", outstanding).
		Msg("tracking started")
	return nil
}

// watchOutstanding watches every message of the session that is not read yet
// and returns how many there were.
func (t *Tracker) watchOutstanding(ctx context.Context, s *session) (int, error) {
	outstanding, err := t.store.ListOutstanding(ctx, s.conversationID)
	if err != nil {
		return 0, err
	}
	for _, msg := range outstanding {
		if err := t.watch(ctx, s, msg.ID); err != nil {
			t.log.Warn().Err(err).
				Str(logging.FieldConversationID, s.conversationID).
				Uint(logging.FieldMessageID, msg.ID).
				Msg("failed to watch outstanding message")
		}
	}
	return len(outstanding), nil
}

// Stop releases every subscription of the conversation. Receipt writes already
// in flight are not affected. Stopping an untracked conversation does nothing.
func (t *Tracker) Stop(conversationID string) {
	t.mu.Lock()
	s, ok := t.sessions[conversationID]
	if ok {
		delete(t.sessions, conversationID)
	}
	t.mu.Unlock()
	if !ok {
		return
	}

	s.stop()
	metrics.ActiveSessions.Dec()
	t.log.Debug().Str(logging.FieldConversationID, conversationID).Msg("tracking stopped")
}

// Watch subscribes a single message, starting the conversation's session if needed.
func (t *Tracker) Watch(ctx context.Context, conversationID string, messageID uint) error {
	if err := t.Start(ctx, conversationID); err != nil {
		return err
	}
	t.mu.Lock()
	s, ok := t.sessions[conversationID]
	t.mu.Unlock()
	if !ok {
		return nil
	}
	return t.watch(ctx, s, messageID)
}

func (t *Tracker) Active(conversationID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.sessions[conversationID]
	return ok
}

// Subscriptions returns the ids of the messages currently watched in a conversation.
func (t *Tracker) Subscriptions(conversationID string) []uint {
	t.mu.Lock()
	s, ok := t.sessions[conversationID]
	t.mu.Unlock()
	if !ok {
		return nil
	}
	return s.watched()
}

// Conversations returns the tracked conversation ids.
func (t *Tracker) Conversations() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.sessions))
	for id := range t.sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Close stops every session and waits for their goroutines to exit.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	sessions := t.sessions
	t.sessions = make(map[string]*session)
	t.mu.Unlock()

	for _, s := range sessions {
		s.stop()
		metrics.ActiveSessions.Dec()
	}
	t.cancel()
	t.wg.Wait()
}

func (t *Tracker) watch(ctx context.Context, s *session, messageID uint) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	if _, ok := s.subs[messageID]; ok {
		s.mu.Unlock()
		return nil
	}
	sub, err := t.store.Subscribe(ctx, s.conversationID, messageID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.subs[messageID] = sub
	t.wg.Add(1)
	s.mu.Unlock()
	metrics.ActiveSubscriptions.Inc()

	go t.followMessage(s, sub)

	// Catch up on receipts recorded before the subscription existed.
	t.recalculate(s, messageID)
	return nil
}

func (t *Tracker) followConversation(s *session, feed *store.Subscription) {
	defer t.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-feed.Lagged:
			// Sends were missed; pick them up from the store.
			if _, err := t.watchOutstanding(s.ctx, s); err != nil && s.ctx.Err() == nil {
				t.log.Warn().Err(err).
					Str(logging.FieldConversationID, s.conversationID).
					Msg("failed to resync outstanding messages")
			}
		case ev, ok := <-feed.Events:
			if !ok {
				return
			}
			if ev.Kind != store.EventMessageSent {
				continue
			}
			if err := t.watch(s.ctx, s, ev.MessageID); err != nil {
				t.log.Warn().Err(err).
					Str(logging.FieldConversationID, s.conversationID).
					Uint(logging.FieldMessageID, ev.MessageID).
					Msg("failed to watch new message")
			}
		}
	}
}

func (t *Tracker) followMessage(s *session, sub *store.Subscription) {
	defer t.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-sub.Lagged:
			if t.recalculate(s, sub.MessageID) {
				return
			}
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			if ev.Kind != store.EventReceipt {
				continue
			}
			if t.recalculate(s, sub.MessageID) {
				return
			}
		}
	}
}

// recalculate refreshes a message's status and reports whether the message
// reached read and its subscription was released.
func (t *Tracker) recalculate(s *session, messageID uint) bool {
	status, err := t.aggregator.Recalculate(s.ctx, s.conversationID, messageID)
	if err != nil {
		if s.ctx.Err() == nil {
			t.log.Warn().Err(err).
				Str(logging.FieldConversationID, s.conversationID).
				Uint(logging.FieldMessageID, messageID).
				Msg("recalculation failed, waiting for next receipt")
		}
		return false
	}
	if !status.IsTerminal() {
		return false
	}
	s.release(messageID)
	return true
}

// setFeed attaches the new-message subscription unless the session stopped
// meanwhile. wg is incremented for the goroutine that will follow the feed.
func (s *session) setFeed(feed *store.Subscription, wg *sync.WaitGroup) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.feed = feed
	wg.Add(1)
	return true
}

func (s *session) release(messageID uint) {
	s.mu.Lock()
	sub, ok := s.subs[messageID]
	delete(s.subs, messageID)
	s.mu.Unlock()
	if ok {
		sub.Close()
		metrics.ActiveSubscriptions.Dec()
	}
}

func (s *session) stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.cancel()
	feed := s.feed
	subs := s.subs
	s.subs = make(map[uint]*store.Subscription)
	s.mu.Unlock()

	feed.Close()
	for _, sub := range subs {
		sub.Close()
		metrics.ActiveSubscriptions.Dec()
	}
}

func (s *session) watched() []uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uint, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
