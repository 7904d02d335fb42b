package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/noteduco342/om-delivery/internal/models"
)

func createTestMessage(t *testing.T, s Store, conversationID string, senderID uint) *models.Message {
	t.Helper()
	msg := &models.Message{
		ConversationID: conversationID,
		ClientID:       "client",
		SenderID:       senderID,
		Content:        "hello",
		MessageType:    models.TextMessage,
	}
	if err := s.CreateMessage(context.Background(), msg); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	return msg
}

func receiveEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatal("event stream closed")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestMemoryStoreCreateDefaultsToSent(t *testing.T) {
	s := NewMemoryStore()
	msg := createTestMessage(t, s, "group_1", 1)

	if msg.ID == 0 {
		t.Fatal("expected an id to be assigned")
	}
	status, err := s.GetStatus(context.Background(), "group_1", msg.ID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status != models.StatusSent {
		t.Errorf("status = %q, want sent", status)
	}
}

func TestMemoryStoreMessageScopedToConversation(t *testing.T) {
	s := NewMemoryStore()
	msg := createTestMessage(t, s, "group_1", 1)

	_, err := s.GetMessage(context.Background(), "group_2", msg.ID)
	if !errors.Is(err, models.ErrMessageNotFound) {
		t.Errorf("GetMessage in other conversation error = %v, want ErrMessageNotFound", err)
	}
	_, err = s.PutReceipt(context.Background(), "group_1", 999, 2, models.ReceiptDelivered)
	if !errors.Is(err, models.ErrMessageNotFound) {
		t.Errorf("PutReceipt on missing message error = %v, want ErrMessageNotFound", err)
	}
}

func TestMemoryStorePutReceiptIsMonotonic(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	msg := createTestMessage(t, s, "group_1", 1)

	tests := []struct {
		name        string
		level       models.ReceiptLevel
		wantChanged bool
		wantLevel   models.ReceiptLevel
	}{
		{"first delivered", models.ReceiptDelivered, true, models.ReceiptDelivered},
		{"repeat delivered", models.ReceiptDelivered, false, models.ReceiptDelivered},
		{"read", models.ReceiptRead, true, models.ReceiptRead},
		{"delivered after read", models.ReceiptDelivered, false, models.ReceiptRead},
		{"repeat read", models.ReceiptRead, false, models.ReceiptRead},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changed, err := s.PutReceipt(ctx, "group_1", msg.ID, 2, tt.level)
			if err != nil {
				t.Fatalf("PutReceipt: %v", err)
			}
			if changed != tt.wantChanged {
				t.Errorf("changed = %v, want %v", changed, tt.wantChanged)
			}
			r, ok, err := s.GetReceipt(ctx, "group_1", msg.ID, 2)
			if err != nil || !ok {
				t.Fatalf("GetReceipt = %v, %v", ok, err)
			}
			if r.Level() != tt.wantLevel {
				t.Errorf("level = %s, want %s", r.Level(), tt.wantLevel)
			}
		})
	}
}

func TestMemoryStorePutStatusCompareAndSet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	msg := createTestMessage(t, s, "dm_1_2", 1)

	swapped, err := s.PutStatus(ctx, "dm_1_2", msg.ID, models.StatusSent, models.StatusDelivered)
	if err != nil || !swapped {
		t.Fatalf("first CAS = %v, %v; want swapped", swapped, err)
	}
	swapped, err = s.PutStatus(ctx, "dm_1_2", msg.ID, models.StatusSent, models.StatusRead)
	if err != nil {
		t.Fatalf("second CAS: %v", err)
	}
	if swapped {
		t.Error("CAS with stale expected value should not apply")
	}
	status, _ := s.GetStatus(ctx, "dm_1_2", msg.ID)
	if status != models.StatusDelivered {
		t.Errorf("status = %q, want delivered", status)
	}
}

func TestMemoryStoreConcurrentCASSingleWinner(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	msg := createTestMessage(t, s, "group_1", 1)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.PutStatus(ctx, "group_1", msg.ID, models.StatusSent, models.StatusDelivered)
			if err == nil && ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("CAS winners = %d, want 1", wins)
	}
}

func TestMemoryStoreSubscribeReceivesReceiptChanges(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	msg := createTestMessage(t, s, "group_1", 1)

	sub, err := s.Subscribe(ctx, "group_1", msg.ID)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer s.Unsubscribe(sub)

	if _, err := s.PutReceipt(ctx, "group_1", msg.ID, 3, models.ReceiptRead); err != nil {
		t.Fatalf("PutReceipt: %v", err)
	}
	ev := receiveEvent(t, sub.Events)
	if ev.Kind != EventReceipt || ev.RecipientID != 3 || !ev.Delivered || !ev.Read {
		t.Errorf("event = %+v, want read receipt from 3", ev)
	}

	// No-op writes publish nothing.
	if _, err := s.PutReceipt(ctx, "group_1", msg.ID, 3, models.ReceiptDelivered); err != nil {
		t.Fatalf("PutReceipt: %v", err)
	}
	select {
	case ev := <-sub.Events:
		t.Errorf("unexpected event after no-op write: %+v", ev)
	default:
	}
}

func TestMemoryStoreUnsubscribeClosesStream(t *testing.T) {
	ctx := context.Background()
	notifier := NewLocalNotifier()
	s := NewMemoryStore(WithNotifier(notifier))
	msg := createTestMessage(t, s, "group_1", 1)

	sub, err := s.Subscribe(ctx, "group_1", msg.ID)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if got := notifier.Subscribers(sub.Channel); got != 1 {
		t.Fatalf("subscribers = %d, want 1", got)
	}

	s.Unsubscribe(sub)
	s.Unsubscribe(sub)

	if _, ok := <-sub.Events; ok {
		t.Error("expected closed event stream")
	}
	if got := notifier.Subscribers(sub.Channel); got != 0 {
		t.Errorf("subscribers after unsubscribe = %d, want 0", got)
	}
}

func TestMemoryStoreAnnouncesNewMessages(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	sub, err := s.SubscribeConversation(ctx, "group_4")
	if err != nil {
		t.Fatalf("SubscribeConversation: %v", err)
	}
	defer sub.Close()

	msg := createTestMessage(t, s, "group_4", 9)
	ev := receiveEvent(t, sub.Events)
	if ev.Kind != EventMessageSent || ev.MessageID != msg.ID || ev.SenderID != 9 {
		t.Errorf("event = %+v, want message_sent for %d", ev, msg.ID)
	}
}

func TestMemoryStoreListings(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	m1 := createTestMessage(t, s, "group_1", 1)
	m2 := createTestMessage(t, s, "group_1", 2)
	m3 := createTestMessage(t, s, "group_1", 1)
	createTestMessage(t, s, "group_2", 1)

	if _, err := s.PutReceipt(ctx, "group_1", m1.ID, 2, models.ReceiptRead); err != nil {
		t.Fatalf("PutReceipt: %v", err)
	}
	if _, err := s.PutStatus(ctx, "group_1", m3.ID, models.StatusSent, models.StatusRead); err != nil {
		t.Fatalf("PutStatus: %v", err)
	}

	outstanding, err := s.ListOutstanding(ctx, "group_1")
	if err != nil {
		t.Fatalf("ListOutstanding: %v", err)
	}
	if len(outstanding) != 2 || outstanding[0].ID != m1.ID || outstanding[1].ID != m2.ID {
		t.Errorf("ListOutstanding = %+v, want [%d %d]", outstanding, m1.ID, m2.ID)
	}

	unread, err := s.ListUnreadFor(ctx, "group_1", 2, time.Time{})
	if err != nil {
		t.Fatalf("ListUnreadFor: %v", err)
	}
	if len(unread) != 1 || unread[0] != m3.ID {
		t.Errorf("ListUnreadFor(2) = %v, want [%d]", unread, m3.ID)
	}
}

func TestMemoryStoreListUnreadSince(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemoryStore(WithClock(func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}))
	m1 := createTestMessage(t, s, "group_1", 1)
	m2 := createTestMessage(t, s, "group_1", 1)
	m3 := createTestMessage(t, s, "group_1", 2)

	tests := []struct {
		name  string
		since time.Time
		want  []uint
	}{
		{"everything", time.Time{}, []uint{m1.ID, m2.ID, m3.ID}},
		{"joined with the second message", m2.CreatedAt, []uint{m2.ID, m3.ID}},
		{"joined after the last message", m3.CreatedAt.Add(time.Second), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListUnreadFor(ctx, "group_1", 3, tt.since)
			if err != nil {
				t.Fatalf("ListUnreadFor: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ListUnreadFor = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("ListUnreadFor = %v, want %v", got, tt.want)
					break
				}
			}
		})
	}
}

func TestMemoryStoreFindByClientID(t *testing.T) {
	s := NewMemoryStore()
	msg := createTestMessage(t, s, "dm_1_2", 1)

	found, err := s.FindByClientID(context.Background(), 1, "client")
	if err != nil || found.ID != msg.ID {
		t.Errorf("FindByClientID = %v, %v; want %d", found, err, msg.ID)
	}
	if _, err := s.FindByClientID(context.Background(), 2, "client"); !errors.Is(err, models.ErrMessageNotFound) {
		t.Errorf("FindByClientID other sender error = %v, want ErrMessageNotFound", err)
	}
}

func TestEventCodec(t *testing.T) {
	in := Event{Kind: EventReceipt, ConversationID: "group_1", MessageID: 4, RecipientID: 7, Delivered: true}
	data, err := encodeEvent(in)
	if err != nil {
		t.Fatalf("encodeEvent: %v", err)
	}
	out, err := decodeEvent(data)
	if err != nil {
		t.Fatalf("decodeEvent: %v", err)
	}
	if out != in {
		t.Errorf("decoded %+v, want %+v", out, in)
	}
	if _, err := decodeEvent([]byte("not msgpack")); err == nil {
		t.Error("expected error decoding garbage")
	}
}

func TestLocalNotifierSignalsLagOnFullBuffer(t *testing.T) {
	ctx := context.Background()
	n := NewLocalNotifier()
	defer n.Close()

	stream, err := n.Subscribe(ctx, "receipts:dm_1_2:1", 1)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stream.Cancel()

	select {
	case <-stream.Lagged:
		t.Fatal("lag signalled before any event")
	default:
	}

	for i := uint(2); i <= 4; i++ {
		if err := n.Publish(ctx, "receipts:dm_1_2:1", Event{Kind: EventReceipt, MessageID: 1, RecipientID: i}); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	if ev := receiveEvent(t, stream.Events); ev.RecipientID != 2 {
		t.Errorf("first event from %d, want 2", ev.RecipientID)
	}
	select {
	case <-stream.Lagged:
	default:
		t.Fatal("dropped events were not signalled")
	}
	// Repeated drops collapse into one signal.
	select {
	case <-stream.Lagged:
		t.Error("lag signalled twice")
	default:
	}
}
