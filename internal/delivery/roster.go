package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/noteduco342/om-delivery/internal/models"
)

// Participant is a conversation member and the time they joined. Direct
// conversation participants carry a zero JoinedAt.
type Participant struct {
	UserID   uint
	JoinedAt time.Time
}

// Roster resolves the participants whose receipts a message needs.
type Roster interface {
	// Participants returns the current participants of the conversation. It
	// fails with models.ErrConversationNotFound when the conversation does not
	// exist and with models.ErrStoreUnavailable when membership cannot be read.
	Participants(ctx context.Context, conversationID string) ([]Participant, error)
}

// MemberLister is the view of group membership the roster needs.
type MemberLister interface {
	Members(groupID uint) ([]models.GroupMember, error)
}

// ConversationRoster derives direct rosters from the pair key and group rosters
// from current group membership.
type ConversationRoster struct {
	groups MemberLister
}

func NewRoster(groups MemberLister) *ConversationRoster {
	return &ConversationRoster{groups: groups}
}

func (r *ConversationRoster) Participants(ctx context.Context, conversationID string) ([]Participant, error) {
	ref, err := models.ParseConversationID(conversationID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrConversationNotFound, err)
	}

	switch ref.Kind {
	case models.DirectConversation:
		return []Participant{{UserID: ref.UserA}, {UserID: ref.UserB}}, nil

	case models.GroupConversation:
		if r.groups == nil {
			return nil, fmt.Errorf("%w: %s", models.ErrConversationNotFound, conversationID)
		}
		members, err := r.groups.Members(ref.GroupID)
		if err != nil {
			if errors.Is(err, models.ErrConversationNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: roster for %s: %v", models.ErrStoreUnavailable, conversationID, err)
		}
		out := make([]Participant, 0, len(members))
		for _, m := range members {
			out = append(out, Participant{UserID: m.UserID, JoinedAt: m.JoinedAt})
		}
		return out, nil
	}

	return nil, fmt.Errorf("%w: %s", models.ErrConversationNotFound, conversationID)
}

// ActiveParticipants returns the participants of conversationID that must
// acknowledge a message sent by sender at sentAt: everyone but the sender who
// had joined by then. A zero sentAt skips the join check.
func ActiveParticipants(ctx context.Context, roster Roster, conversationID string, sender uint, sentAt time.Time) ([]uint, error) {
	participants, err := roster.Participants(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return required(conversationID, participants, sender, sentAt)
}

func required(conversationID string, participants []Participant, sender uint, sentAt time.Time) ([]uint, error) {
	out := make([]uint, 0, len(participants))
	senderFound := false
	for _, p := range participants {
		if p.UserID == sender {
			senderFound = true
			continue
		}
		if !sentAt.IsZero() && !p.JoinedAt.IsZero() && p.JoinedAt.After(sentAt) {
			continue
		}
		out = append(out, p.UserID)
	}
	// A direct conversation only ever has its two parties as senders.
	if ref, err := models.ParseConversationID(conversationID); !senderFound && err == nil && ref.Kind == models.DirectConversation {
		return nil, fmt.Errorf("%w: %d is not part of %s", models.ErrConversationNotFound, sender, conversationID)
	}
	return out, nil
}

func contains(ids []uint, id uint) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
