package delivery

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/noteduco342/om-delivery/internal/models"
	"github.com/noteduco342/om-delivery/internal/store"
)

// fakeMembers is a MemberLister backed by a map of group id to members.
// Members added through set carry no join time and count for every message.
type fakeMembers struct {
	mu     sync.Mutex
	groups map[uint][]models.GroupMember
	calls  int
}

func newFakeMembers() *fakeMembers {
	return &fakeMembers{groups: make(map[uint][]models.GroupMember)}
}

func (m *fakeMembers) set(groupID uint, members ...uint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := make([]models.GroupMember, 0, len(members))
	for _, id := range members {
		rows = append(rows, models.GroupMember{GroupID: groupID, UserID: id})
	}
	m.groups[groupID] = rows
}

func (m *fakeMembers) remove(groupID, userID uint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []models.GroupMember
	for _, row := range m.groups[groupID] {
		if row.UserID != userID {
			kept = append(kept, row)
		}
	}
	m.groups[groupID] = kept
}

func (m *fakeMembers) join(groupID, userID uint, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[groupID] = append(m.groups[groupID], models.GroupMember{GroupID: groupID, UserID: userID, JoinedAt: at})
}

func (m *fakeMembers) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *fakeMembers) resetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = 0
}

func (m *fakeMembers) Members(groupID uint) ([]models.GroupMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	rows, ok := m.groups[groupID]
	if !ok {
		return nil, fmt.Errorf("%w: group %d", models.ErrConversationNotFound, groupID)
	}
	return append([]models.GroupMember(nil), rows...), nil
}

// countingStore counts writes to the wrapped store and can inject failures.
type countingStore struct {
	store.Store

	mu             sync.Mutex
	receiptWrites  int
	statusWrites   int
	receiptReads   int
	failPutReceipt error
	failPutStatus  error
}

func (s *countingStore) PutReceipt(ctx context.Context, conversationID string, messageID, recipientID uint, level models.ReceiptLevel) (bool, error) {
	s.mu.Lock()
	s.receiptWrites++
	fail := s.failPutReceipt
	s.mu.Unlock()
	if fail != nil {
		return false, fail
	}
	return s.Store.PutReceipt(ctx, conversationID, messageID, recipientID, level)
}

func (s *countingStore) PutStatus(ctx context.Context, conversationID string, messageID uint, expected, next models.MessageStatus) (bool, error) {
	s.mu.Lock()
	s.statusWrites++
	fail := s.failPutStatus
	s.mu.Unlock()
	if fail != nil {
		return false, fail
	}
	return s.Store.PutStatus(ctx, conversationID, messageID, expected, next)
}

func (s *countingStore) GetReceipts(ctx context.Context, conversationID string, messageID uint) (map[uint]models.MessageReceipt, error) {
	s.mu.Lock()
	s.receiptReads++
	s.mu.Unlock()
	return s.Store.GetReceipts(ctx, conversationID, messageID)
}

func (s *countingStore) counts() (receiptWrites, statusWrites, receiptReads int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.receiptWrites, s.statusWrites, s.receiptReads
}

func (s *countingStore) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receiptWrites, s.statusWrites, s.receiptReads = 0, 0, 0
}

func (s *countingStore) setFailures(putReceipt, putStatus error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPutReceipt, s.failPutStatus = putReceipt, putStatus
}

// recordingObserver remembers every callback it receives.
type recordingObserver struct {
	mu       sync.Mutex
	receipts []models.MessageReceipt
	statuses []models.MessageStatus
}

func (o *recordingObserver) ReceiptRecorded(ctx context.Context, message *models.Message, receipt models.MessageReceipt) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.receipts = append(o.receipts, receipt)
}

func (o *recordingObserver) StatusChanged(ctx context.Context, message *models.Message, previous models.MessageStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses = append(o.statuses, message.Status)
}

type fixture struct {
	notifier *store.LocalNotifier
	memory   *store.MemoryStore
	store    *countingStore
	members  *fakeMembers
	observer *recordingObserver
	engine   *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	notifier := store.NewLocalNotifier()
	memory := store.NewMemoryStore(store.WithNotifier(notifier))
	f := &fixture{
		notifier: notifier,
		memory:   memory,
		store:    &countingStore{Store: memory},
		members:  newFakeMembers(),
		observer: &recordingObserver{},
	}
	f.engine = New(f.store, NewRoster(f.members), WithObserver(f.observer))
	t.Cleanup(func() { _ = notifier.Close() })
	return f
}

func (f *fixture) send(t *testing.T, conversationID string, senderID uint) *models.Message {
	t.Helper()
	msg := &models.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        "hi",
		MessageType:    models.TextMessage,
	}
	if err := f.memory.CreateMessage(context.Background(), msg); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	return msg
}

func (f *fixture) status(t *testing.T, conversationID string, messageID uint) models.MessageStatus {
	t.Helper()
	status, err := f.memory.GetStatus(context.Background(), conversationID, messageID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	return status
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
