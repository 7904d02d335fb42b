package httpx

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/noteduco342/om-delivery/internal/models"
	"github.com/noteduco342/om-delivery/internal/validation"
)

type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func requestID(c *fiber.Ctx) string {
	if v := c.Locals("requestid"); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func Error(c *fiber.Ctx, status int, code string, message string) error {
	if message == "" {
		message = "Request failed"
	}
	return c.Status(status).JSON(ErrorResponse{
		Error:     message,
		Code:      code,
		RequestID: requestID(c),
	})
}

func BadRequest(c *fiber.Ctx, code string, message string) error {
	return Error(c, fiber.StatusBadRequest, code, message)
}

func Unauthorized(c *fiber.Ctx, code string, message string) error {
	return Error(c, fiber.StatusUnauthorized, code, message)
}

func Forbidden(c *fiber.Ctx, code string, message string) error {
	return Error(c, fiber.StatusForbidden, code, message)
}

func Internal(c *fiber.Ctx, code string) error {
	return Error(c, fiber.StatusInternalServerError, code, "Internal server error")
}

func LocalUint(c *fiber.Ctx, key string) (uint, error) {
	v := c.Locals(key)
	if v == nil {
		return 0, fmt.Errorf("missing local %s", key)
	}
	u, ok := v.(uint)
	if !ok {
		return 0, fmt.Errorf("invalid local %s", key)
	}
	return u, nil
}

func NotFound(c *fiber.Ctx, code string, message string) error {
	return Error(c, fiber.StatusNotFound, code, message)
}

func Unavailable(c *fiber.Ctx, code string) error {
	return Error(c, fiber.StatusServiceUnavailable, code, "Service temporarily unavailable")
}

// FromError answers with the status matching a domain error.
func FromError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, models.ErrNotAParticipant):
		return Forbidden(c, "not_a_participant", "Not a participant of this conversation")
	case errors.Is(err, models.ErrMessageNotFound):
		return NotFound(c, "message_not_found", "Message not found")
	case errors.Is(err, models.ErrConversationNotFound):
		return NotFound(c, "conversation_not_found", "Conversation not found")
	case errors.Is(err, models.ErrInvalidConversationID):
		return BadRequest(c, "invalid_conversation_id", "Invalid conversation id")
	case errors.Is(err, validation.ErrEmptyContent):
		return BadRequest(c, "missing_content", "Content is required")
	case errors.Is(err, validation.ErrInvalidClientID):
		return BadRequest(c, "invalid_client_id", "client_id must be a UUID")
	case errors.Is(err, validation.ErrBatchTooLarge):
		return BadRequest(c, "batch_too_large", "Too many message ids")
	case errors.Is(err, validation.ErrInvalidName):
		return BadRequest(c, "invalid_name", "Invalid group name")
	case errors.Is(err, models.ErrStoreUnavailable):
		return Unavailable(c, "store_unavailable")
	default:
		return Internal(c, "internal_error")
	}
}

func ParamUint(c *fiber.Ctx, key string) (uint, error) {
	v, err := strconv.ParseUint(c.Params(key), 10, 32)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("invalid param %s", key)
	}
	return uint(v), nil
}
