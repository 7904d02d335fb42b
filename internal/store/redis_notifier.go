package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/noteduco342/om-delivery/internal/logging"
	"github.com/noteduco342/om-delivery/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// RedisNotifier publishes store events over Redis pub/sub so that every
// server instance observes receipt changes written by any other instance.
type RedisNotifier struct {
	client *redis.Client

	mu   sync.Mutex
	subs map[*redis.PubSub]struct{}
}

func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{
		client: client,
		subs:   make(map[*redis.PubSub]struct{}),
	}
}

func encodeEvent(event Event) ([]byte, error) {
	return msgpack.Marshal(&event)
}

func decodeEvent(data []byte) (Event, error) {
	var event Event
	err := msgpack.Unmarshal(data, &event)
	return event, err
}

func (n *RedisNotifier) Publish(ctx context.Context, channel string, event Event) error {
	data, err := encodeEvent(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := n.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("%w: publish %s: %v", models.ErrStoreUnavailable, channel, err)
	}
	return nil
}

func (n *RedisNotifier) Subscribe(ctx context.Context, channel string, buffer int) (*Stream, error) {
	pubsub := n.client.Subscribe(ctx, channel)
	// Wait for the subscription to be confirmed so no event published after
	// Subscribe returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("%w: subscribe %s: %v", models.ErrStoreUnavailable, channel, err)
	}

	n.mu.Lock()
	n.subs[pubsub] = struct{}{}
	n.mu.Unlock()

	w := newStreamWriter(buffer)
	go n.pump(channel, pubsub, w)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, pubsub)
			n.mu.Unlock()
			_ = pubsub.Close()
		})
	}
	return w.stream(cancel), nil
}

// pump decodes messages until the pubsub is closed, then closes the stream.
func (n *RedisNotifier) pump(channel string, pubsub *redis.PubSub, w *streamWriter) {
	defer close(w.events)
	log := logging.Component("redis_notifier")

	for msg := range pubsub.Channel() {
		event, err := decodeEvent([]byte(msg.Payload))
		if err != nil {
			log.Warn().Err(err).Str("channel", channel).Msg("dropping undecodable event")
			continue
		}
		if !w.offer(event) {
			log.Warn().Str("channel", channel).Msg("subscriber buffer full, dropping event")
		}
	}
}

func (n *RedisNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for pubsub := range n.subs {
		_ = pubsub.Close()
		delete(n.subs, pubsub)
	}
	return nil
}
