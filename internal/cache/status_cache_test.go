package cache

import (
	"context"
	"testing"

	"github.com/noteduco342/om-delivery/internal/models"
)

func TestStatusCacheWithoutRedis(t *testing.T) {
	ctx := context.Background()
	b := &models.StatusBreakdown{MessageID: 3, ConversationID: "dm_1_2", Status: models.StatusRead}

	for name, sc := range map[string]*StatusCache{
		"nil cache":  nil,
		"no backend": NewStatusCache(nil, 0),
	} {
		t.Run(name, func(t *testing.T) {
			if err := sc.Set(ctx, b); err != nil {
				t.Errorf("Set: %v", err)
			}
			if _, ok := sc.Get(ctx, "dm_1_2", 3); ok {
				t.Error("Get hit without a backend")
			}
			if err := sc.Invalidate(ctx, "dm_1_2", 3); err != nil {
				t.Errorf("Invalidate: %v", err)
			}
			if err := sc.InvalidateConversation(ctx, "dm_1_2"); err != nil {
				t.Errorf("InvalidateConversation: %v", err)
			}
		})
	}
}

func TestStatusKeys(t *testing.T) {
	if got := statusKey("group_4", 17); got != "status:group_4:17" {
		t.Errorf("statusKey = %q", got)
	}
	if got := conversationPattern("dm_1_2"); got != "status:dm_1_2:*" {
		t.Errorf("conversationPattern = %q", got)
	}
	if sc := NewStatusCache(nil, 0); sc.ttl != DefaultStatusTTL {
		t.Errorf("default ttl = %v, want %v", sc.ttl, DefaultStatusTTL)
	}
}
