package ws

import (
	"errors"

	"github.com/noteduco342/om-delivery/internal/models"
	"github.com/noteduco342/om-delivery/internal/service"
)

const (
	MsgSend      = "send"
	MsgTrack     = "track"
	MsgUntrack   = "untrack"
	MsgDelivered = "delivered"
	MsgRead      = "read"
	MsgStatus    = "status"
)

// MessageSend posts a message and pushes it to the other participants.
type MessageSend struct {
	ConversationID string             `json:"conversation_id"`
	ClientID       string             `json:"client_id"`
	Content        string             `json:"content"`
	MessageType    models.MessageType `json:"message_type"`
}

func (msg *MessageSend) GetType() string {
	return MsgSend
}

func (msg *MessageSend) Process(ctx *MessageContext) error {
	sent, err := ctx.MessageService.Send(ctx.Ctx, ctx.UserID, msg.ConversationID, service.SendMessageInput{
		ClientID:    msg.ClientID,
		Content:     msg.Content,
		MessageType: msg.MessageType,
	})
	if err != nil {
		return err
	}

	// Follow the new message if the sender tracks this conversation.
	if ctx.Tracker.Active(sent.ConversationID) {
		if err := ctx.Tracker.Watch(ctx.Ctx, sent.ConversationID, sent.ID); err != nil {
			return err
		}
	}

	recipients, err := ctx.MessageService.Recipients(sent)
	if err != nil {
		return err
	}
	ctx.Hub.BroadcastToUsers(recipients, map[string]interface{}{
		"type":    "message",
		"payload": sent.ToResponse(),
	})

	return ctx.Reply("ack", map[string]interface{}{
		"client_id": sent.ClientID,
		"message":   sent.ToResponse(),
	})
}

// MessageTrack opens a tracking session for one of the user's conversations.
type MessageTrack struct {
	ConversationID string `json:"conversation_id"`
}

func (msg *MessageTrack) GetType() string {
	return MsgTrack
}

func (msg *MessageTrack) Process(ctx *MessageContext) error {
	if err := ctx.MessageService.CanTrack(ctx.Ctx, ctx.UserID, msg.ConversationID); err != nil {
		return err
	}
	if err := ctx.Tracker.Start(ctx.Ctx, msg.ConversationID); err != nil {
		return err
	}
	return ctx.Reply("tracking", map[string]interface{}{
		"conversation_id": msg.ConversationID,
		"message_ids":     ctx.Tracker.Subscriptions(msg.ConversationID),
	})
}

type MessageUntrack struct {
	ConversationID string `json:"conversation_id"`
}

func (msg *MessageUntrack) GetType() string {
	return MsgUntrack
}

func (msg *MessageUntrack) Process(ctx *MessageContext) error {
	ctx.Tracker.Stop(msg.ConversationID)
	return ctx.Reply("untracked", map[string]interface{}{
		"conversation_id": msg.ConversationID,
	})
}

// MessageDelivered acknowledges that messages reached the client.
type MessageDelivered struct {
	ConversationID string `json:"conversation_id"`
	MessageIDs     []uint `json:"message_ids"`
}

func (msg *MessageDelivered) GetType() string {
	return MsgDelivered
}

func (msg *MessageDelivered) Process(ctx *MessageContext) error {
	statuses := make(map[uint]models.MessageStatus, len(msg.MessageIDs))
	var errs []error
	for _, id := range msg.MessageIDs {
		res, err := ctx.MessageService.MarkDelivered(ctx.Ctx, ctx.UserID, msg.ConversationID, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		statuses[id] = res.Status
	}
	if len(statuses) == 0 && len(errs) > 0 {
		return errors.Join(errs...)
	}
	return ctx.Reply("delivered_ack", map[string]interface{}{
		"conversation_id": msg.ConversationID,
		"statuses":        statuses,
		"failed":          len(errs),
	})
}

// MessageRead marks messages read. No ids means the whole conversation.
type MessageRead struct {
	ConversationID string `json:"conversation_id"`
	MessageIDs     []uint `json:"message_ids"`
	Recalculate    *bool  `json:"recalculate,omitempty"`
}

func (msg *MessageRead) GetType() string {
	return MsgRead
}

func (msg *MessageRead) Process(ctx *MessageContext) error {
	if len(msg.MessageIDs) == 1 {
		res, err := ctx.MessageService.MarkRead(ctx.Ctx, ctx.UserID, msg.ConversationID, msg.MessageIDs[0])
		if err != nil {
			return err
		}
		return ctx.Reply("read_ack", map[string]interface{}{
			"conversation_id": msg.ConversationID,
			"changed":         changedIDs(res.Changed, res.MessageID),
			"statuses":        map[uint]models.MessageStatus{res.MessageID: res.Status},
		})
	}

	recalculate := len(msg.MessageIDs) > 0
	if msg.Recalculate != nil {
		recalculate = *msg.Recalculate
	}
	res, err := ctx.MessageService.MarkReadBatch(ctx.Ctx, ctx.UserID, msg.ConversationID, msg.MessageIDs, recalculate)
	if err != nil && len(res.Changed) == 0 {
		return err
	}
	return ctx.Reply("read_ack", map[string]interface{}{
		"conversation_id": msg.ConversationID,
		"changed":         res.Changed,
		"statuses":        res.Statuses,
	})
}

func changedIDs(changed bool, id uint) []uint {
	if !changed {
		return []uint{}
	}
	return []uint{id}
}

// MessageStatusQuery asks for the per-recipient breakdown of a message.
type MessageStatusQuery struct {
	ConversationID string `json:"conversation_id"`
	MessageID      uint   `json:"message_id"`
}

func (msg *MessageStatusQuery) GetType() string {
	return MsgStatus
}

func (msg *MessageStatusQuery) Process(ctx *MessageContext) error {
	b, err := ctx.MessageService.GetStatus(ctx.Ctx, ctx.UserID, msg.ConversationID, msg.MessageID)
	if err != nil {
		return err
	}
	return ctx.Reply("status_breakdown", b)
}
