package delivery

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/noteduco342/om-delivery/internal/models"
	"github.com/noteduco342/om-delivery/internal/store"
)

func newTracker(t *testing.T, f *fixture) *Tracker {
	t.Helper()
	tr := f.engine.NewTracker()
	t.Cleanup(tr.Close)
	return tr
}

func TestTrackerWatchesOutstandingMessages(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.members.set(1, 1, 2, 3)
	m1 := f.send(t, "group_1", 1)
	m2 := f.send(t, "group_1", 1)
	done := f.send(t, "group_1", 1)
	if _, err := f.memory.PutStatus(ctx, "group_1", done.ID, models.StatusSent, models.StatusRead); err != nil {
		t.Fatalf("PutStatus: %v", err)
	}

	tr := newTracker(t, f)
	if err := tr.Start(ctx, "group_1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !tr.Active("group_1") {
		t.Fatal("expected session to be active")
	}
	if got, want := tr.Subscriptions("group_1"), []uint{m1.ID, m2.ID}; !reflect.DeepEqual(got, want) {
		t.Errorf("subscriptions = %v, want %v", got, want)
	}
}

func TestTrackerRecalculatesOnReceiptAndReleasesOnRead(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.members.set(1, 1, 2, 3)
	msg := f.send(t, "group_1", 1)

	tr := newTracker(t, f)
	if err := tr.Start(ctx, "group_1"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Receipts written straight to the store, as another server instance would.
	for _, id := range []uint{2, 3} {
		if _, err := f.memory.PutReceipt(ctx, "group_1", msg.ID, id, models.ReceiptDelivered); err != nil {
			t.Fatalf("PutReceipt: %v", err)
		}
	}
	eventually(t, "delivered status", func() bool {
		s, _ := f.memory.GetStatus(ctx, "group_1", msg.ID)
		return s == models.StatusDelivered
	})
	if got := tr.Subscriptions("group_1"); len(got) != 1 {
		t.Fatalf("subscriptions = %v, want message still watched", got)
	}

	for _, id := range []uint{2, 3} {
		if _, err := f.memory.PutReceipt(ctx, "group_1", msg.ID, id, models.ReceiptRead); err != nil {
			t.Fatalf("PutReceipt: %v", err)
		}
	}
	eventually(t, "read status", func() bool {
		s, _ := f.memory.GetStatus(ctx, "group_1", msg.ID)
		return s == models.StatusRead
	})
	eventually(t, "subscription release", func() bool {
		return len(tr.Subscriptions("group_1")) == 0
	})
	eventually(t, "receipt channel unsubscribed", func() bool {
		return f.notifier.Subscribers(store.ReceiptChannel("group_1", msg.ID)) == 0
	})
}

func TestTrackerCatchesUpOnStart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	msg := f.send(t, "dm_1_2", 1)
	if _, err := f.memory.PutReceipt(ctx, "dm_1_2", msg.ID, 2, models.ReceiptRead); err != nil {
		t.Fatalf("PutReceipt: %v", err)
	}

	tr := newTracker(t, f)
	if err := tr.Start(ctx, "dm_1_2"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if got := f.status(t, "dm_1_2", msg.ID); got != models.StatusRead {
		t.Errorf("status = %q, want read after catch-up", got)
	}
	eventually(t, "released subscription", func() bool {
		return len(tr.Subscriptions("dm_1_2")) == 0
	})
}

func TestTrackerWatchesNewSends(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	tr := newTracker(t, f)
	if err := tr.Start(ctx, "dm_1_2"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	msg := f.send(t, "dm_1_2", 1)

	eventually(t, "new message watched", func() bool {
		return reflect.DeepEqual(tr.Subscriptions("dm_1_2"), []uint{msg.ID})
	})

	if _, err := f.memory.PutReceipt(ctx, "dm_1_2", msg.ID, 2, models.ReceiptDelivered); err != nil {
		t.Fatalf("PutReceipt: %v", err)
	}
	eventually(t, "delivered status", func() bool {
		s, _ := f.memory.GetStatus(ctx, "dm_1_2", msg.ID)
		return s == models.StatusDelivered
	})
}

func TestTrackerStartIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	msg := f.send(t, "dm_1_2", 1)

	tr := newTracker(t, f)
	for i := 0; i < 3; i++ {
		if err := tr.Start(ctx, "dm_1_2"); err != nil {
			t.Fatalf("Start #%d: %v", i, err)
		}
	}
	if got := f.notifier.Subscribers(store.ReceiptChannel("dm_1_2", msg.ID)); got != 1 {
		t.Errorf("receipt subscribers = %d, want 1", got)
	}
	if got := f.notifier.Subscribers(store.ConversationChannel("dm_1_2")); got != 1 {
		t.Errorf("conversation subscribers = %d, want 1", got)
	}
}

func TestTrackerStopReleasesEverything(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.members.set(1, 1, 2)
	m1 := f.send(t, "group_1", 1)
	m2 := f.send(t, "group_1", 2)

	tr := newTracker(t, f)
	if err := tr.Start(ctx, "group_1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	tr.Stop("group_1")
	tr.Stop("group_1")
	tr.Stop("group_404")

	if tr.Active("group_1") {
		t.Error("session still active after Stop")
	}
	for _, id := range []uint{m1.ID, m2.ID} {
		if got := f.notifier.Subscribers(store.ReceiptChannel("group_1", id)); got != 0 {
			t.Errorf("receipt subscribers for %d = %d, want 0", id, got)
		}
	}
	if got := f.notifier.Subscribers(store.ConversationChannel("group_1")); got != 0 {
		t.Errorf("conversation subscribers = %d, want 0", got)
	}

	// Writes after Stop still land; only live recalculation stops.
	if _, err := f.engine.MarkRead(ctx, "group_1", m1.ID, 2); err != nil {
		t.Fatalf("MarkRead after Stop: %v", err)
	}
	if got := f.status(t, "group_1", m1.ID); got != models.StatusRead {
		t.Errorf("status = %q, want read", got)
	}
}

func TestTrackerSessionsAreIndependent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.send(t, "dm_1_2", 1)
	b := f.send(t, "dm_1_3", 1)

	tr := newTracker(t, f)
	for _, conv := range []string{"dm_1_2", "dm_1_3"} {
		if err := tr.Start(ctx, conv); err != nil {
			t.Fatalf("Start(%s): %v", conv, err)
		}
	}
	tr.Stop("dm_1_2")

	if got := tr.Conversations(); !reflect.DeepEqual(got, []string{"dm_1_3"}) {
		t.Errorf("conversations = %v, want [dm_1_3]", got)
	}
	if got := f.notifier.Subscribers(store.ReceiptChannel("dm_1_2", a.ID)); got != 0 {
		t.Errorf("stopped conversation still subscribed")
	}
	if got := f.notifier.Subscribers(store.ReceiptChannel("dm_1_3", b.ID)); got != 1 {
		t.Errorf("running conversation subscribers = %d, want 1", got)
	}
}

func TestTrackerWatchStartsSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	msg := f.send(t, "dm_1_2", 1)

	tr := newTracker(t, f)
	if err := tr.Watch(ctx, "dm_1_2", msg.ID); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if !tr.Active("dm_1_2") {
		t.Error("Watch did not start the session")
	}
	if got := tr.Subscriptions("dm_1_2"); !reflect.DeepEqual(got, []uint{msg.ID}) {
		t.Errorf("subscriptions = %v, want [%d]", got, msg.ID)
	}
}

func TestTrackerClose(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.send(t, "dm_1_2", 1)

	tr := f.engine.NewTracker()
	if err := tr.Start(ctx, "dm_1_2"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	tr.Close()
	tr.Close()

	if tr.Active("dm_1_2") {
		t.Error("session survived Close")
	}
	if err := tr.Start(ctx, "dm_1_2"); !errors.Is(err, ErrTrackerClosed) {
		t.Errorf("Start after Close error = %v, want ErrTrackerClosed", err)
	}
}

// quietStore hands out subscriptions that never receive events, so the tracker
// only learns about changes through the lag signal.
type quietStore struct {
	store.Store

	mu     sync.Mutex
	lagged map[string]chan struct{}
}

func newQuietStore(st store.Store) *quietStore {
	return &quietStore{Store: st, lagged: make(map[string]chan struct{})}
}

func (s *quietStore) Subscribe(ctx context.Context, conversationID string, messageID uint) (*store.Subscription, error) {
	channel := store.ReceiptChannel(conversationID, messageID)
	return store.NewSubscription(channel, conversationID, messageID, channel, s.stream(channel)), nil
}

func (s *quietStore) SubscribeConversation(ctx context.Context, conversationID string) (*store.Subscription, error) {
	channel := store.ConversationChannel(conversationID)
	return store.NewSubscription(channel, conversationID, 0, channel, s.stream(channel)), nil
}

func (s *quietStore) stream(channel string) *store.Stream {
	events := make(chan store.Event)
	lagged := make(chan struct{}, 1)
	s.mu.Lock()
	s.lagged[channel] = lagged
	s.mu.Unlock()
	var once sync.Once
	return &store.Stream{
		Events: events,
		Lagged: lagged,
		Cancel: func() { once.Do(func() { close(events) }) },
	}
}

func (s *quietStore) lag(t *testing.T, channel string) {
	t.Helper()
	s.mu.Lock()
	lagged, ok := s.lagged[channel]
	s.mu.Unlock()
	if !ok {
		t.Fatalf("no subscription on %s", channel)
	}
	select {
	case lagged <- struct{}{}:
	default:
	}
}

func TestTrackerResyncsMessageAfterLag(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	quiet := newQuietStore(f.memory)
	engine := New(quiet, NewRoster(f.members))
	msg := f.send(t, "dm_1_2", 1)

	tr := engine.NewTracker()
	t.Cleanup(tr.Close)
	if err := tr.Start(ctx, "dm_1_2"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := tr.Subscriptions("dm_1_2"); !reflect.DeepEqual(got, []uint{msg.ID}) {
		t.Fatalf("subscriptions = %v, want [%d]", got, msg.ID)
	}

	if _, err := f.memory.PutReceipt(ctx, "dm_1_2", msg.ID, 2, models.ReceiptRead); err != nil {
		t.Fatalf("PutReceipt: %v", err)
	}
	quiet.lag(t, store.ReceiptChannel("dm_1_2", msg.ID))

	eventually(t, "read status", func() bool {
		s, _ := f.memory.GetStatus(ctx, "dm_1_2", msg.ID)
		return s == models.StatusRead
	})
	eventually(t, "subscription release", func() bool {
		return len(tr.Subscriptions("dm_1_2")) == 0
	})
}

func TestTrackerResyncsConversationAfterLag(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	quiet := newQuietStore(f.memory)
	engine := New(quiet, NewRoster(f.members))

	tr := engine.NewTracker()
	t.Cleanup(tr.Close)
	if err := tr.Start(ctx, "dm_1_2"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	msg := f.send(t, "dm_1_2", 1)
	if got := tr.Subscriptions("dm_1_2"); len(got) != 0 {
		t.Fatalf("subscriptions = %v before lag, want none", got)
	}

	quiet.lag(t, store.ConversationChannel("dm_1_2"))
	eventually(t, "missed send watched", func() bool {
		return reflect.DeepEqual(tr.Subscriptions("dm_1_2"), []uint{msg.ID})
	})
}
