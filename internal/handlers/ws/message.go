package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/noteduco342/om-delivery/internal/delivery"
	"github.com/noteduco342/om-delivery/internal/models"
	"github.com/noteduco342/om-delivery/internal/service"
	"github.com/noteduco342/om-delivery/internal/validation"
)

// Client is the connection a message arrived on.
type Client interface {
	WriteJSON(data interface{}) error
}

// MessageContext provides all dependencies needed for message processing
type MessageContext struct {
	Ctx            context.Context
	UserID         uint
	Client         Client
	Hub            *Hub
	MessageService *service.MessageService
	Tracker        *delivery.Tracker
}

// Reply writes a typed event back to the client.
func (c *MessageContext) Reply(msgType string, payload interface{}) error {
	return c.Client.WriteJSON(map[string]interface{}{
		"type":    msgType,
		"payload": payload,
	})
}

// Message interface for all WebSocket message types
type Message interface {
	GetType() string
	Process(ctx *MessageContext) error
}

// SerializedMessage is the wire format wrapper
type SerializedMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ErrorResponse is sent when message processing fails
type ErrorResponse struct {
	Type    string `json:"type"`
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

func ToJson(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

func FromJson(jsonBytes []byte, msg Message) error {
	if len(jsonBytes) == 0 {
		return nil
	}
	return json.Unmarshal(jsonBytes, msg)
}

func CreateMessage(msgType string, typeRegistry map[string]reflect.Type) (Message, error) {
	msgTypeReflect, ok := typeRegistry[msgType]
	if !ok {
		return nil, fmt.Errorf("unknown message type: %s", msgType)
	}

	instance := reflect.New(msgTypeReflect).Interface()
	return instance.(Message), nil
}

// SendError sends an error response to the client
func SendError(client Client, code, message, details string) error {
	errResp := ErrorResponse{
		Type:    "error",
		Error:   message,
		Code:    code,
		Details: details,
	}
	return client.WriteJSON(errResp)
}

// ErrorCode maps a processing error to the code sent to the client.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, models.ErrNotAParticipant), errors.Is(err, service.ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, models.ErrMessageNotFound), errors.Is(err, models.ErrConversationNotFound):
		return "NOT_FOUND"
	case errors.Is(err, models.ErrStoreUnavailable):
		return "UNAVAILABLE"
	case errors.Is(err, models.ErrInvalidConversationID),
		errors.Is(err, validation.ErrEmptyContent),
		errors.Is(err, validation.ErrInvalidClientID),
		errors.Is(err, validation.ErrBatchTooLarge):
		return "INVALID_REQUEST"
	case errors.Is(err, delivery.ErrTrackerClosed):
		return "CLOSED"
	default:
		return "INTERNAL"
	}
}
