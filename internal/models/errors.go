package models

import "errors"

var (
	ErrNotAParticipant       = errors.New("not a participant of the conversation")
	ErrMessageNotFound       = errors.New("message not found")
	ErrConversationNotFound  = errors.New("conversation not found")
	ErrStoreUnavailable      = errors.New("status store unavailable")
	ErrInvalidConversationID = errors.New("invalid conversation id")
)
