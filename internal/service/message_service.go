package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/noteduco342/om-delivery/internal/cache"
	"github.com/noteduco342/om-delivery/internal/delivery"
	"github.com/noteduco342/om-delivery/internal/logging"
	"github.com/noteduco342/om-delivery/internal/models"
	"github.com/noteduco342/om-delivery/internal/store"
	"github.com/noteduco342/om-delivery/internal/validation"
)

// BreakdownCache holds status breakdowns of recently queried messages.
// *cache.StatusCache implements it.
type BreakdownCache interface {
	Enabled() bool
	Get(ctx context.Context, conversationID string, messageID uint) (*models.StatusBreakdown, bool)
	Set(ctx context.Context, b *models.StatusBreakdown) error
	Invalidate(ctx context.Context, conversationID string, messageID uint) error
}

func breakdownCache(c BreakdownCache) BreakdownCache {
	if c == nil {
		return (*cache.StatusCache)(nil)
	}
	return c
}

type MessageServiceConfig struct {
	MaxMessageLength int
	RecordRetries    int
	RecordRetryDelay time.Duration
}

// MessageService is the application API over the delivery engine: sending
// messages and recording delivered/read receipts on behalf of a user.
type MessageService struct {
	store       store.Store
	engine      *delivery.Engine
	groups      *GroupService
	statusCache BreakdownCache
	cfg         MessageServiceConfig
}

func NewMessageService(st store.Store, engine *delivery.Engine, groups *GroupService, statusCache BreakdownCache, cfg MessageServiceConfig) *MessageService {
	if cfg.MaxMessageLength < 1 {
		cfg.MaxMessageLength = validation.DefaultMaxMessageLength
	}
	if cfg.RecordRetries < 1 {
		cfg.RecordRetries = 1
	}
	if cfg.RecordRetryDelay <= 0 {
		cfg.RecordRetryDelay = 100 * time.Millisecond
	}
	return &MessageService{
		store:       st,
		engine:      engine,
		groups:      groups,
		statusCache: breakdownCache(statusCache),
		cfg:         cfg,
	}
}

type SendMessageInput struct {
	ClientID    string             `json:"client_id"`
	Content     string             `json:"content"`
	MessageType models.MessageType `json:"message_type"`
}

// Send posts a message to an existing conversation id.
func (s *MessageService) Send(ctx context.Context, senderID uint, conversationID string, input SendMessageInput) (*models.Message, error) {
	ref, err := models.ParseConversationID(conversationID)
	if err != nil {
		return nil, err
	}
	if ref.Kind == models.GroupConversation {
		return s.SendGroup(ctx, senderID, ref.GroupID, input)
	}
	peer, ok := ref.Peer(senderID)
	if !ok {
		return nil, fmt.Errorf("%w: %d in %s", models.ErrNotAParticipant, senderID, conversationID)
	}
	return s.SendDirect(ctx, senderID, peer, input)
}

func (s *MessageService) SendDirect(ctx context.Context, senderID, recipientID uint, input SendMessageInput) (*models.Message, error) {
	if recipientID == 0 || recipientID == senderID {
		return nil, fmt.Errorf("%w: cannot message yourself", models.ErrNotAParticipant)
	}
	message := &models.Message{
		ConversationID: models.DirectConversationID(senderID, recipientID),
		SenderID:       senderID,
		RecipientID:    &recipientID,
	}
	return s.send(ctx, message, input)
}

func (s *MessageService) SendGroup(ctx context.Context, senderID, groupID uint, input SendMessageInput) (*models.Message, error) {
	isMember, err := s.groups.IsMember(groupID, senderID)
	if err != nil {
		return nil, err
	}
	if !isMember {
		return nil, fmt.Errorf("%w: %d in group %d", models.ErrNotAParticipant, senderID, groupID)
	}
	message := &models.Message{
		ConversationID: models.GroupConversationID(groupID),
		SenderID:       senderID,
		GroupID:        &groupID,
	}
	return s.send(ctx, message, input)
}

func (s *MessageService) send(ctx context.Context, message *models.Message, input SendMessageInput) (*models.Message, error) {
	content, err := validation.MessageContent(input.Content, s.cfg.MaxMessageLength)
	if err != nil {
		return nil, err
	}
	clientID, err := validation.ClientID(input.ClientID)
	if err != nil {
		return nil, err
	}

	// A retried send returns the message stored the first time.
	existing, err := s.store.FindByClientID(ctx, message.SenderID, clientID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, models.ErrMessageNotFound) {
		return nil, err
	}

	message.ClientID = clientID
	message.Content = content
	message.MessageType = input.MessageType
	if message.MessageType == "" {
		message.MessageType = models.TextMessage
	}
	message.Status = models.StatusSent

	if err := s.store.CreateMessage(ctx, message); err != nil {
		return nil, err
	}

	logging.Ctx(ctx).Debug().
		Str(logging.FieldConversationID, message.ConversationID).
		Uint(logging.FieldMessageID, message.ID).
		Uint(logging.FieldUserID, message.SenderID).
		Msg("message sent")
	return message, nil
}

func (s *MessageService) MarkDelivered(ctx context.Context, userID uint, conversationID string, messageID uint) (delivery.RecordResult, error) {
	if _, err := models.ParseConversationID(conversationID); err != nil {
		return delivery.RecordResult{}, err
	}
	return withRetry(ctx, s.cfg.RecordRetries, s.cfg.RecordRetryDelay, func() (delivery.RecordResult, error) {
		return s.engine.MarkDelivered(ctx, conversationID, messageID, userID)
	})
}

func (s *MessageService) MarkRead(ctx context.Context, userID uint, conversationID string, messageID uint) (delivery.RecordResult, error) {
	if _, err := models.ParseConversationID(conversationID); err != nil {
		return delivery.RecordResult{}, err
	}
	return withRetry(ctx, s.cfg.RecordRetries, s.cfg.RecordRetryDelay, func() (delivery.RecordResult, error) {
		return s.engine.MarkRead(ctx, conversationID, messageID, userID)
	})
}

// MarkReadBatch marks messageIDs read for userID. An empty list means every
// message in the conversation the user has not read yet and was sent after
// they joined.
func (s *MessageService) MarkReadBatch(ctx context.Context, userID uint, conversationID string, messageIDs []uint, triggerRecalculation bool) (delivery.BatchResult, error) {
	joinedAt, err := s.participant(ctx, userID, conversationID)
	if err != nil {
		return delivery.BatchResult{}, err
	}
	ids, err := validation.MessageIDs(messageIDs)
	if err != nil {
		return delivery.BatchResult{}, err
	}
	if len(ids) == 0 {
		ids, err = s.store.ListUnreadFor(ctx, conversationID, userID, joinedAt)
		if err != nil {
			return delivery.BatchResult{}, err
		}
	}
	if len(ids) == 0 {
		return delivery.BatchResult{Statuses: map[uint]models.MessageStatus{}}, nil
	}

	return withRetry(ctx, s.cfg.RecordRetries, s.cfg.RecordRetryDelay, func() (delivery.BatchResult, error) {
		return s.engine.MarkReadBatch(ctx, conversationID, userID, ids, triggerRecalculation)
	})
}

// MarkConversationRead is "mark all as read": one receipt per unread message
// and a single recalculation pass afterwards.
func (s *MessageService) MarkConversationRead(ctx context.Context, userID uint, conversationID string) (delivery.BatchResult, error) {
	return s.MarkReadBatch(ctx, userID, conversationID, nil, false)
}

// GetStatus returns a message's status breakdown to a participant of its conversation.
func (s *MessageService) GetStatus(ctx context.Context, userID uint, conversationID string, messageID uint) (*models.StatusBreakdown, error) {
	if err := s.checkParticipant(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	if b, ok := s.statusCache.Get(ctx, conversationID, messageID); ok {
		return b, nil
	}

	b, err := s.engine.Breakdown(ctx, conversationID, messageID)
	if err != nil {
		return nil, err
	}
	s.cacheBreakdown(ctx, b)
	return b, nil
}

// cacheBreakdown stores b and then checks the message again. A receipt or
// status change that landed while b was built may have invalidated the key
// before b was written, so a changed message drops b again.
func (s *MessageService) cacheBreakdown(ctx context.Context, b *models.StatusBreakdown) {
	if !s.statusCache.Enabled() {
		return
	}
	log := logging.Ctx(ctx).With().
		Str(logging.FieldConversationID, b.ConversationID).
		Uint(logging.FieldMessageID, b.MessageID).
		Logger()

	if err := s.statusCache.Set(ctx, b); err != nil {
		log.Warn().Err(err).Msg("failed to cache status breakdown")
		return
	}
	if s.unchangedSince(ctx, b) {
		return
	}
	if err := s.statusCache.Invalidate(ctx, b.ConversationID, b.MessageID); err != nil {
		log.Warn().Err(err).Msg("failed to drop stale status breakdown")
	}
}

// unchangedSince reports whether the stored status and receipts still match b.
func (s *MessageService) unchangedSince(ctx context.Context, b *models.StatusBreakdown) bool {
	status, err := s.store.GetStatus(ctx, b.ConversationID, b.MessageID)
	if err != nil || status != b.Status {
		return false
	}
	receipts, err := s.store.GetReceipts(ctx, b.ConversationID, b.MessageID)
	if err != nil {
		return false
	}
	// Receipts of former members have no row and are ignored.
	for _, row := range b.Recipients {
		r, ok := receipts[row.RecipientID]
		if ok != row.Delivered || (ok && r.IsRead != row.Read) {
			return false
		}
	}
	return true
}

// CanTrack reports whether userID may follow receipts of a conversation.
func (s *MessageService) CanTrack(ctx context.Context, userID uint, conversationID string) error {
	return s.checkParticipant(ctx, userID, conversationID)
}

func (s *MessageService) checkParticipant(ctx context.Context, userID uint, conversationID string) error {
	_, err := s.participant(ctx, userID, conversationID)
	return err
}

// participant checks that userID is in the conversation and returns when they
// joined it. Direct conversation parties have always been in it.
func (s *MessageService) participant(ctx context.Context, userID uint, conversationID string) (time.Time, error) {
	ref, err := models.ParseConversationID(conversationID)
	if err != nil {
		return time.Time{}, err
	}
	if ref.Kind == models.DirectConversation {
		if !ref.Includes(userID) {
			return time.Time{}, fmt.Errorf("%w: %d in %s", models.ErrNotAParticipant, userID, conversationID)
		}
		return time.Time{}, nil
	}
	return s.groups.JoinedAt(ref.GroupID, userID)
}

// Recipients lists who a message should be pushed to: the peer of a direct
// message or the current group members other than the sender.
func (s *MessageService) Recipients(message *models.Message) ([]uint, error) {
	if message.GroupID == nil {
		if message.RecipientID == nil {
			return nil, nil
		}
		return []uint{*message.RecipientID}, nil
	}
	ids, err := s.groups.MemberIDs(*message.GroupID)
	if err != nil {
		return nil, err
	}
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id != message.SenderID {
			out = append(out, id)
		}
	}
	return out, nil
}
