package store

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/noteduco342/om-delivery/internal/logging"
)

// Notifier moves change events between whoever writes the store and its subscribers.
type Notifier interface {
	Publish(ctx context.Context, channel string, event Event) error
	Subscribe(ctx context.Context, channel string, buffer int) (*Stream, error)
	Close() error
}

// Stream is one subscriber's feed from a Notifier. An event that does not fit
// in Events is dropped and Lagged is signalled instead, so the subscriber can
// resynchronize from the store. Cancel closes Events.
type Stream struct {
	Events <-chan Event
	Lagged <-chan struct{}
	Cancel func()
}

type streamWriter struct {
	events chan Event
	lagged chan struct{}
}

func newStreamWriter(buffer int) *streamWriter {
	if buffer < 1 {
		buffer = 1
	}
	return &streamWriter{
		events: make(chan Event, buffer),
		lagged: make(chan struct{}, 1),
	}
}

// offer queues event without blocking and reports whether it fit.
func (w *streamWriter) offer(event Event) bool {
	select {
	case w.events <- event:
		return true
	default:
	}
	select {
	case w.lagged <- struct{}{}:
	default:
	}
	return false
}

func (w *streamWriter) stream(cancel func()) *Stream {
	return &Stream{Events: w.events, Lagged: w.lagged, Cancel: cancel}
}

type localSubscriber struct {
	w *streamWriter
}

// LocalNotifier fans events out to subscribers in the same process.
type LocalNotifier struct {
	mu       sync.RWMutex
	channels map[string]map[string]*localSubscriber
}

func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{channels: make(map[string]map[string]*localSubscriber)}
}

func (n *LocalNotifier) Publish(ctx context.Context, channel string, event Event) error {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for id, sub := range n.channels[channel] {
		if !sub.w.offer(event) {
			logging.Ctx(ctx).Warn().
				Str("channel", channel).
				Str("subscription_id", id).
				Msg("subscriber buffer full, dropping event")
		}
	}
	return nil
}

func (n *LocalNotifier) Subscribe(ctx context.Context, channel string, buffer int) (*Stream, error) {
	id := uuid.NewString()
	sub := &localSubscriber{w: newStreamWriter(buffer)}

	n.mu.Lock()
	if _, ok := n.channels[channel]; !ok {
		n.channels[channel] = make(map[string]*localSubscriber)
	}
	n.channels[channel][id] = sub
	n.mu.Unlock()

	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		subs, ok := n.channels[channel]
		if !ok {
			return
		}
		if _, ok := subs[id]; !ok {
			return
		}
		delete(subs, id)
		if len(subs) == 0 {
			delete(n.channels, channel)
		}
		close(sub.w.events)
	}
	return sub.w.stream(cancel), nil
}

// Subscribers returns how many subscribers listen on channel.
func (n *LocalNotifier) Subscribers(channel string) int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.channels[channel])
}

func (n *LocalNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for channel, subs := range n.channels {
		for _, sub := range subs {
			close(sub.w.events)
		}
		delete(n.channels, channel)
	}
	return nil
}
