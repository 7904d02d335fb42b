package service

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/noteduco342/om-delivery/internal/models"
	"github.com/noteduco342/om-delivery/internal/validation"
)

func TestCreateGroup(t *testing.T) {
	groups := NewGroupService(NewMockGroupRepository(), nil)

	tests := []struct {
		name      string
		groupName string
		wantErr   error
		wantName  string
	}{
		{"Valid", "Weekend   plans", nil, "Weekend plans"},
		{"Blank", "   ", validation.ErrInvalidName, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := groups.CreateGroup(tt.groupName, "desc", 1)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("CreateGroup error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}
			if g.Name != tt.wantName {
				t.Errorf("name = %q, want %q", g.Name, tt.wantName)
			}
			isAdmin, err := groups.IsAdmin(g.ID, 1)
			if err != nil || !isAdmin {
				t.Errorf("creator admin = %v, %v", isAdmin, err)
			}
		})
	}
}

func TestAddMember(t *testing.T) {
	groups := NewGroupService(NewMockGroupRepository(), nil)
	g, err := groups.CreateGroup("Team", "", 1)
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	tests := []struct {
		name    string
		groupID uint
		actorID uint
		userID  uint
		wantErr error
	}{
		{"Admin adds member", g.ID, 1, 2, nil},
		{"Duplicate", g.ID, 1, 2, ErrAlreadyMember},
		{"Member cannot add", g.ID, 2, 3, ErrForbidden},
		{"Outsider cannot add", g.ID, 9, 3, ErrForbidden},
		{"Unknown group", 77, 1, 3, models.ErrConversationNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := groups.AddMember(tt.groupID, tt.actorID, tt.userID)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("AddMember error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	ids, err := groups.MemberIDs(g.ID)
	if err != nil {
		t.Fatalf("MemberIDs: %v", err)
	}
	if want := []uint{1, 2}; !reflect.DeepEqual(ids, want) {
		t.Errorf("MemberIDs = %v, want %v", ids, want)
	}
}

func TestGroupMembership(t *testing.T) {
	groups := NewGroupService(NewMockGroupRepository(), nil)
	g, _ := groups.CreateGroup("Team", "", 1)
	_ = groups.AddMember(g.ID, 1, 2)

	members, err := groups.GetGroupMembers(g.ID, 2)
	if err != nil {
		t.Fatalf("GetGroupMembers: %v", err)
	}
	if len(members) != 2 || members[0].Role != models.RoleAdmin || members[1].Role != models.RoleMember {
		t.Errorf("members = %+v", members)
	}
	if _, err := groups.GetGroupMembers(g.ID, 5); !errors.Is(err, models.ErrNotAParticipant) {
		t.Errorf("outsider GetGroupMembers error = %v", err)
	}

	if err := groups.LeaveGroup(g.ID, 2); err != nil {
		t.Fatalf("LeaveGroup: %v", err)
	}
	if err := groups.LeaveGroup(g.ID, 2); !errors.Is(err, models.ErrNotAParticipant) {
		t.Errorf("second LeaveGroup error = %v", err)
	}
	if ok, _ := groups.IsMember(g.ID, 2); ok {
		t.Error("member still listed after leaving")
	}

	userGroups, err := groups.GetUserGroups(1)
	if err != nil || len(userGroups) != 1 || userGroups[0].ID != g.ID {
		t.Errorf("GetUserGroups = %v, %v", userGroups, err)
	}

	if _, err := groups.GetGroup(404); !errors.Is(err, models.ErrConversationNotFound) {
		t.Errorf("GetGroup(404) error = %v", err)
	}
	if _, err := groups.MemberIDs(404); !errors.Is(err, models.ErrConversationNotFound) {
		t.Errorf("MemberIDs(404) error = %v", err)
	}
}

func TestDepartedMemberNoLongerBlocksRead(t *testing.T) {
	f := newServiceFixture(t, 1)
	ctx := context.Background()
	g := f.group(t, 1, 2, 3)
	conv := g.ConversationID()

	msg, err := f.messages.Send(ctx, 1, conv, SendMessageInput{Content: "quorum?"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := f.messages.MarkRead(ctx, 2, conv, msg.ID); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if s := f.status(t, msg); s != models.StatusSent {
		t.Fatalf("status = %s before member 3 leaves", s)
	}

	if err := f.groups.LeaveGroup(g.ID, 3); err != nil {
		t.Fatalf("LeaveGroup: %v", err)
	}
	status, err := f.engine.Recalculate(ctx, conv, msg.ID)
	if err != nil {
		t.Fatalf("Recalculate: %v", err)
	}
	if status != models.StatusRead {
		t.Errorf("status = %s after roster shrank, want read", status)
	}

	if _, err := f.messages.MarkRead(ctx, 3, conv, msg.ID); !errors.Is(err, models.ErrNotAParticipant) {
		t.Errorf("departed member MarkRead error = %v", err)
	}
}

func TestLateJoinerDoesNotBlockRead(t *testing.T) {
	f := newServiceFixture(t, 1)
	ctx := context.Background()
	g := f.group(t, 1, 2, 3)
	conv := g.ConversationID()

	msg, err := f.messages.Send(ctx, 1, conv, SendMessageInput{Content: "before you joined"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := f.messages.MarkRead(ctx, 2, conv, msg.ID); err != nil {
		t.Fatalf("MarkRead(2): %v", err)
	}
	if err := f.groups.AddMember(g.ID, 1, 4); err != nil {
		t.Fatalf("AddMember(4): %v", err)
	}
	if _, err := f.messages.MarkRead(ctx, 3, conv, msg.ID); err != nil {
		t.Fatalf("MarkRead(3): %v", err)
	}
	if s := f.status(t, msg); s != models.StatusRead {
		t.Errorf("status = %s after every earlier member read, want read", s)
	}

	// Older messages are not the newcomer's to acknowledge.
	res, err := f.messages.MarkConversationRead(ctx, 4, conv)
	if err != nil {
		t.Fatalf("MarkConversationRead(4): %v", err)
	}
	if len(res.Changed) != 0 {
		t.Errorf("newcomer marked %v read", res.Changed)
	}

	b, err := f.messages.GetStatus(ctx, 4, conv, msg.ID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	for _, row := range b.Recipients {
		if row.RecipientID == 4 {
			t.Errorf("breakdown lists the newcomer: %+v", b.Recipients)
		}
	}
}
