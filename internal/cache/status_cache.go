package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/noteduco342/om-delivery/internal/models"
	"github.com/vmihailenco/msgpack/v5"
)

const DefaultStatusTTL = 2 * time.Minute

// StatusCache keeps status breakdowns of recently queried messages.
// A nil *StatusCache, or one without Redis, is a valid cache that never hits.
type StatusCache struct {
	redis *RedisCache
	ttl   time.Duration
}

func NewStatusCache(redis *RedisCache, ttl time.Duration) *StatusCache {
	if ttl <= 0 {
		ttl = DefaultStatusTTL
	}
	return &StatusCache{redis: redis, ttl: ttl}
}

func statusKey(conversationID string, messageID uint) string {
	return fmt.Sprintf("status:%s:%d", conversationID, messageID)
}

func conversationPattern(conversationID string) string {
	return fmt.Sprintf("status:%s:*", conversationID)
}

// Enabled reports whether the cache can hold anything.
func (sc *StatusCache) Enabled() bool {
	return sc != nil && sc.redis != nil
}

func (sc *StatusCache) Get(ctx context.Context, conversationID string, messageID uint) (*models.StatusBreakdown, bool) {
	if !sc.Enabled() {
		return nil, false
	}
	data, err := sc.redis.Get(ctx, statusKey(conversationID, messageID))
	if err != nil || data == nil {
		return nil, false
	}

	var b models.StatusBreakdown
	if err := msgpack.Unmarshal(data, &b); err != nil {
		return nil, false
	}
	return &b, true
}

func (sc *StatusCache) Set(ctx context.Context, b *models.StatusBreakdown) error {
	if !sc.Enabled() || b == nil {
		return nil
	}
	data, err := msgpack.Marshal(b)
	if err != nil {
		return err
	}
	return sc.redis.Set(ctx, statusKey(b.ConversationID, b.MessageID), data, sc.ttl)
}

// Invalidate drops the cached breakdown of one message.
func (sc *StatusCache) Invalidate(ctx context.Context, conversationID string, messageID uint) error {
	if !sc.Enabled() {
		return nil
	}
	return sc.redis.Delete(ctx, statusKey(conversationID, messageID))
}

// InvalidateConversation drops every cached breakdown of a conversation,
// used when its roster changes.
func (sc *StatusCache) InvalidateConversation(ctx context.Context, conversationID string) error {
	if !sc.Enabled() {
		return nil
	}
	return sc.redis.DeletePattern(ctx, conversationPattern(conversationID))
}
