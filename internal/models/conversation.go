package models

import (
	"fmt"
	"strconv"
	"strings"
)

type ConversationKind string

const (
	DirectConversation ConversationKind = "direct"
	GroupConversation  ConversationKind = "group"
)

const (
	directPrefix = "dm_"
	groupPrefix  = "group_"
)

// ConversationRef is a parsed conversation id.
// Direct conversations are keyed by the user pair (UserA < UserB), groups by group id.
type ConversationRef struct {
	Kind    ConversationKind
	GroupID uint
	UserA   uint
	UserB   uint
}

// DirectConversationID builds the pair key for two users, smaller id first.
func DirectConversationID(userID1, userID2 uint) string {
	if userID1 > userID2 {
		userID1, userID2 = userID2, userID1
	}
	return fmt.Sprintf("%s%d_%d", directPrefix, userID1, userID2)
}

func GroupConversationID(groupID uint) string {
	return fmt.Sprintf("%s%d", groupPrefix, groupID)
}

// ParseConversationID parses a canonical conversation id. Ids that name a
// conversation in any other form ("dm_9_3", "group_07") are rejected so that
// every lookup and notification channel uses the same key.
func ParseConversationID(id string) (ConversationRef, error) {
	ref, err := parseConversationID(id)
	if err != nil {
		return ConversationRef{}, err
	}
	if ref.String() != id {
		return ConversationRef{}, fmt.Errorf("%w: %q is not canonical, use %q", ErrInvalidConversationID, id, ref.String())
	}
	return ref, nil
}

func parseConversationID(id string) (ConversationRef, error) {
	switch {
	case strings.HasPrefix(id, directPrefix):
		parts := strings.Split(strings.TrimPrefix(id, directPrefix), "_")
		if len(parts) != 2 {
			return ConversationRef{}, fmt.Errorf("%w: %q", ErrInvalidConversationID, id)
		}
		a, errA := parseID(parts[0])
		b, errB := parseID(parts[1])
		if errA != nil || errB != nil || a == b {
			return ConversationRef{}, fmt.Errorf("%w: %q", ErrInvalidConversationID, id)
		}
		if a > b {
			a, b = b, a
		}
		return ConversationRef{Kind: DirectConversation, UserA: a, UserB: b}, nil
	case strings.HasPrefix(id, groupPrefix):
		g, err := parseID(strings.TrimPrefix(id, groupPrefix))
		if err != nil {
			return ConversationRef{}, fmt.Errorf("%w: %q", ErrInvalidConversationID, id)
		}
		return ConversationRef{Kind: GroupConversation, GroupID: g}, nil
	default:
		return ConversationRef{}, fmt.Errorf("%w: %q", ErrInvalidConversationID, id)
	}
}

// String renders the canonical conversation id.
func (r ConversationRef) String() string {
	if r.Kind == GroupConversation {
		return GroupConversationID(r.GroupID)
	}
	return DirectConversationID(r.UserA, r.UserB)
}

// Includes reports whether a direct conversation is between userID and someone else.
func (r ConversationRef) Includes(userID uint) bool {
	return r.Kind == DirectConversation && (r.UserA == userID || r.UserB == userID)
}

// Peer returns the other side of a direct conversation.
func (r ConversationRef) Peer(userID uint) (uint, bool) {
	switch {
	case r.Kind != DirectConversation:
		return 0, false
	case r.UserA == userID:
		return r.UserB, true
	case r.UserB == userID:
		return r.UserA, true
	}
	return 0, false
}

func parseID(s string) (uint, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	if v == 0 {
		return 0, fmt.Errorf("zero id")
	}
	return uint(v), nil
}
