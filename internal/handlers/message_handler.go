package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/noteduco342/om-delivery/internal/httpx"
	"github.com/noteduco342/om-delivery/internal/logging"
	"github.com/noteduco342/om-delivery/internal/service"
)

// Broadcaster pushes an event to whichever of userIDs are connected.
type Broadcaster interface {
	BroadcastToUsers(userIDs []uint, data interface{})
}

type MessageHandler struct {
	messageService *service.MessageService
	broadcaster    Broadcaster
}

func NewMessageHandler(messageService *service.MessageService, broadcaster Broadcaster) *MessageHandler {
	return &MessageHandler{
		messageService: messageService,
		broadcaster:    broadcaster,
	}
}

type markReadInput struct {
	MessageIDs  []uint `json:"message_ids"`
	Recalculate *bool  `json:"recalculate"`
}

func (h *MessageHandler) SendMessage(c *fiber.Ctx) error {
	userID, err := httpx.LocalUint(c, "userID")
	if err != nil {
		return httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}

	var input service.SendMessageInput
	if err := c.BodyParser(&input); err != nil {
		return httpx.BadRequest(c, "invalid_request_body", "Invalid request body")
	}

	message, err := h.messageService.Send(c.UserContext(), userID, c.Params("conversationID"), input)
	if err != nil {
		return httpx.FromError(c, err)
	}

	if h.broadcaster != nil {
		recipients, err := h.messageService.Recipients(message)
		if err != nil {
			logging.Ctx(c.UserContext()).Warn().Err(err).
				Uint(logging.FieldMessageID, message.ID).
				Msg("failed to resolve recipients")
		} else {
			h.broadcaster.BroadcastToUsers(recipients, fiber.Map{
				"type":    "message",
				"payload": message.ToResponse(),
			})
		}
	}

	return c.Status(fiber.StatusCreated).JSON(message.ToResponse())
}

func (h *MessageHandler) MarkDelivered(c *fiber.Ctx) error {
	userID, err := httpx.LocalUint(c, "userID")
	if err != nil {
		return httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}
	messageID, err := httpx.ParamUint(c, "messageID")
	if err != nil {
		return httpx.BadRequest(c, "invalid_message_id", "Invalid message id")
	}

	res, err := h.messageService.MarkDelivered(c.UserContext(), userID, c.Params("conversationID"), messageID)
	if err != nil {
		return httpx.FromError(c, err)
	}
	return c.JSON(res)
}

func (h *MessageHandler) MarkRead(c *fiber.Ctx) error {
	userID, err := httpx.LocalUint(c, "userID")
	if err != nil {
		return httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}
	messageID, err := httpx.ParamUint(c, "messageID")
	if err != nil {
		return httpx.BadRequest(c, "invalid_message_id", "Invalid message id")
	}

	res, err := h.messageService.MarkRead(c.UserContext(), userID, c.Params("conversationID"), messageID)
	if err != nil {
		return httpx.FromError(c, err)
	}
	return c.JSON(res)
}

// MarkConversationRead marks the given ids read, or every unread message
// when no ids are sent.
func (h *MessageHandler) MarkConversationRead(c *fiber.Ctx) error {
	userID, err := httpx.LocalUint(c, "userID")
	if err != nil {
		return httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}

	var input markReadInput
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&input); err != nil {
			return httpx.BadRequest(c, "invalid_request_body", "Invalid request body")
		}
	}
	recalculate := len(input.MessageIDs) > 0
	if input.Recalculate != nil {
		recalculate = *input.Recalculate
	}

	res, err := h.messageService.MarkReadBatch(c.UserContext(), userID, c.Params("conversationID"), input.MessageIDs, recalculate)
	if err != nil && len(res.Changed) == 0 {
		return httpx.FromError(c, err)
	}

	body := fiber.Map{
		"changed":  res.Changed,
		"statuses": res.Statuses,
	}
	if err != nil {
		body["error"] = err.Error()
	}
	return c.JSON(body)
}

func (h *MessageHandler) GetStatus(c *fiber.Ctx) error {
	userID, err := httpx.LocalUint(c, "userID")
	if err != nil {
		return httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}
	messageID, err := httpx.ParamUint(c, "messageID")
	if err != nil {
		return httpx.BadRequest(c, "invalid_message_id", "Invalid message id")
	}

	breakdown, err := h.messageService.GetStatus(c.UserContext(), userID, c.Params("conversationID"), messageID)
	if err != nil {
		return httpx.FromError(c, err)
	}
	return c.JSON(breakdown)
}
