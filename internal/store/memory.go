package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/noteduco342/om-delivery/internal/models"
)

// MemoryStore keeps messages and receipts in process memory.
// The server falls back to it when no database is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	nextID   uint
	messages map[uint]*models.Message
	receipts map[uint]map[uint]models.MessageReceipt

	notifier Notifier
	buffer   int
	now      func() time.Time
}

type MemoryOption func(*MemoryStore)

func WithNotifier(n Notifier) MemoryOption {
	return func(s *MemoryStore) { s.notifier = n }
}

// WithBuffer sets the per-subscription event buffer.
func WithBuffer(size int) MemoryOption {
	return func(s *MemoryStore) { s.buffer = size }
}

func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		nextID:   1,
		messages: make(map[uint]*models.Message),
		receipts: make(map[uint]map[uint]models.MessageReceipt),
		buffer:   64,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.notifier == nil {
		s.notifier = NewLocalNotifier()
	}
	return s
}

func (s *MemoryStore) CreateMessage(ctx context.Context, message *models.Message) error {
	s.mu.Lock()
	if message.ID == 0 {
		message.ID = s.nextID
	}
	if message.ID >= s.nextID {
		s.nextID = message.ID + 1
	}
	if message.Status == "" {
		message.Status = models.StatusSent
	}
	now := s.now()
	if message.CreatedAt.IsZero() {
		message.CreatedAt = now
	}
	message.UpdatedAt = now
	stored := *message
	s.messages[message.ID] = &stored
	s.mu.Unlock()

	return s.notifier.Publish(ctx, ConversationChannel(message.ConversationID), Event{
		Kind:           EventMessageSent,
		ConversationID: message.ConversationID,
		MessageID:      message.ID,
		SenderID:       message.SenderID,
	})
}

func (s *MemoryStore) FindByClientID(ctx context.Context, senderID uint, clientID string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, msg := range s.messages {
		if msg.SenderID == senderID && msg.ClientID == clientID {
			out := *msg
			return &out, nil
		}
	}
	return nil, models.ErrMessageNotFound
}

// message must be called with s.mu held.
func (s *MemoryStore) message(conversationID string, messageID uint) (*models.Message, error) {
	msg, ok := s.messages[messageID]
	if !ok || msg.ConversationID != conversationID {
		return nil, fmt.Errorf("%w: %s/%d", models.ErrMessageNotFound, conversationID, messageID)
	}
	return msg, nil
}

func (s *MemoryStore) GetMessage(ctx context.Context, conversationID string, messageID uint) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, err := s.message(conversationID, messageID)
	if err != nil {
		return nil, err
	}
	out := *msg
	return &out, nil
}

func (s *MemoryStore) ListOutstanding(ctx context.Context, conversationID string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Message
	for _, msg := range s.messages {
		if msg.ConversationID == conversationID && !msg.Status.IsTerminal() {
			out = append(out, *msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) ListUnreadFor(ctx context.Context, conversationID string, recipientID uint, since time.Time) ([]uint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []uint
	for _, msg := range s.messages {
		if msg.ConversationID != conversationID || msg.SenderID == recipientID {
			continue
		}
		if !since.IsZero() && msg.CreatedAt.Before(since) {
			continue
		}
		if r, ok := s.receipts[msg.ID][recipientID]; ok && r.IsRead {
			continue
		}
		ids = append(ids, msg.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *MemoryStore) GetReceipts(ctx context.Context, conversationID string, messageID uint) (map[uint]models.MessageReceipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, err := s.message(conversationID, messageID); err != nil {
		return nil, err
	}
	out := make(map[uint]models.MessageReceipt, len(s.receipts[messageID]))
	for id, r := range s.receipts[messageID] {
		out[id] = r
	}
	return out, nil
}

func (s *MemoryStore) GetReceipt(ctx context.Context, conversationID string, messageID, recipientID uint) (models.MessageReceipt, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, err := s.message(conversationID, messageID); err != nil {
		return models.MessageReceipt{}, false, err
	}
	r, ok := s.receipts[messageID][recipientID]
	return r, ok, nil
}

func (s *MemoryStore) PutReceipt(ctx context.Context, conversationID string, messageID, recipientID uint, level models.ReceiptLevel) (bool, error) {
	s.mu.Lock()
	if _, err := s.message(conversationID, messageID); err != nil {
		s.mu.Unlock()
		return false, err
	}
	current, ok := s.receipts[messageID][recipientID]
	if !ok {
		current = models.MessageReceipt{
			MessageID:      messageID,
			RecipientID:    recipientID,
			ConversationID: conversationID,
			CreatedAt:      s.now(),
		}
	}
	next, changed := current.Upgrade(level, s.now())
	if changed {
		if s.receipts[messageID] == nil {
			s.receipts[messageID] = make(map[uint]models.MessageReceipt)
		}
		s.receipts[messageID][recipientID] = next
	}
	s.mu.Unlock()

	if !changed {
		return false, nil
	}
	// The receipt is already durable here; a failed notification only delays observers.
	_ = s.notifier.Publish(ctx, ReceiptChannel(conversationID, messageID), Event{
		Kind:           EventReceipt,
		ConversationID: conversationID,
		MessageID:      messageID,
		RecipientID:    recipientID,
		Delivered:      next.IsDelivered,
		Read:           next.IsRead,
	})
	return true, nil
}

func (s *MemoryStore) GetStatus(ctx context.Context, conversationID string, messageID uint) (models.MessageStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, err := s.message(conversationID, messageID)
	if err != nil {
		return "", err
	}
	return msg.Status, nil
}

func (s *MemoryStore) PutStatus(ctx context.Context, conversationID string, messageID uint, expected, next models.MessageStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, err := s.message(conversationID, messageID)
	if err != nil {
		return false, err
	}
	if msg.Status != expected {
		return false, nil
	}
	msg.Status = next
	msg.UpdatedAt = s.now()
	return true, nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, conversationID string, messageID uint) (*Subscription, error) {
	if _, err := s.GetMessage(ctx, conversationID, messageID); err != nil {
		return nil, err
	}
	channel := ReceiptChannel(conversationID, messageID)
	stream, err := s.notifier.Subscribe(ctx, channel, s.buffer)
	if err != nil {
		return nil, err
	}
	return NewSubscription(uuid.NewString(), conversationID, messageID, channel, stream), nil
}

func (s *MemoryStore) SubscribeConversation(ctx context.Context, conversationID string) (*Subscription, error) {
	channel := ConversationChannel(conversationID)
	stream, err := s.notifier.Subscribe(ctx, channel, s.buffer)
	if err != nil {
		return nil, err
	}
	return NewSubscription(uuid.NewString(), conversationID, 0, channel, stream), nil
}

func (s *MemoryStore) Unsubscribe(sub *Subscription) {
	sub.Close()
}
