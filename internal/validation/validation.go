package validation

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	DefaultMaxMessageLength = 4000
	MaxGroupNameLength      = 100
	MaxDescriptionLength    = 255
	MaxBatchSize            = 500
)

var (
	ErrEmptyContent    = errors.New("message content is empty")
	ErrInvalidClientID = errors.New("client_id must be a UUID")
	ErrInvalidName     = errors.New("group name must be 1-100 characters")
	ErrBatchTooLarge   = errors.New("too many message ids in one request")
)

// TrimAndLimit trims whitespace and cuts s to at most max runes.
func TrimAndLimit(s string, max int) string {
	s = strings.TrimSpace(s)
	if max > 0 && utf8.RuneCountInString(s) > max {
		return string([]rune(s)[:max])
	}
	return s
}

// MessageContent normalizes message content and rejects empty messages.
func MessageContent(content string, max int) (string, error) {
	if max < 1 {
		max = DefaultMaxMessageLength
	}
	content = TrimAndLimit(content, max)
	if content == "" {
		return "", ErrEmptyContent
	}
	return content, nil
}

// ClientID returns a normalized client id, generating one when the client sent none.
func ClientID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return uuid.NewString(), nil
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", ErrInvalidClientID
	}
	return parsed.String(), nil
}

func NormalizeGroupName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

func ValidateGroupName(name string) bool {
	name = NormalizeGroupName(name)
	n := utf8.RuneCountInString(name)
	return n >= 1 && n <= MaxGroupNameLength
}

// MessageIDs drops zero and duplicate ids, keeping request order.
func MessageIDs(ids []uint) ([]uint, error) {
	if len(ids) > MaxBatchSize {
		return nil, ErrBatchTooLarge
	}
	seen := make(map[uint]bool, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, nil
}
