package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/noteduco342/om-delivery/internal/cache"
	"github.com/noteduco342/om-delivery/internal/logging"
	"github.com/noteduco342/om-delivery/internal/models"
	"github.com/noteduco342/om-delivery/internal/repository"
	"github.com/noteduco342/om-delivery/internal/validation"
	"gorm.io/gorm"
)

var (
	ErrAlreadyMember = errors.New("user is already a member of this group")
	ErrForbidden     = errors.New("forbidden")
)

// GroupService manages group membership, which is the roster of group conversations.
type GroupService struct {
	groupRepo   repository.GroupRepositoryInterface
	statusCache *cache.StatusCache
}

func NewGroupService(groupRepo repository.GroupRepositoryInterface, statusCache *cache.StatusCache) *GroupService {
	return &GroupService{groupRepo: groupRepo, statusCache: statusCache}
}

func groupNotFound(err error, groupID uint) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: group %d", models.ErrConversationNotFound, groupID)
	}
	return err
}

func (s *GroupService) CreateGroup(name, description string, creatorID uint) (*models.Group, error) {
	if !validation.ValidateGroupName(name) {
		return nil, validation.ErrInvalidName
	}
	group := &models.Group{
		Name:        validation.NormalizeGroupName(name),
		Description: validation.TrimAndLimit(description, validation.MaxDescriptionLength),
		CreatorID:   creatorID,
	}

	if err := s.groupRepo.Create(group); err != nil {
		return nil, err
	}

	// Add creator as admin
	if err := s.groupRepo.AddMember(group.ID, creatorID, models.RoleAdmin); err != nil {
		return nil, err
	}

	return s.groupRepo.FindByID(group.ID)
}

// AddMember adds userID to the group. Only admins may add members.
func (s *GroupService) AddMember(groupID, actorID, userID uint) error {
	if _, err := s.groupRepo.FindByID(groupID); err != nil {
		return groupNotFound(err, groupID)
	}
	isAdmin, err := s.IsAdmin(groupID, actorID)
	if err != nil {
		return err
	}
	if !isAdmin {
		return ErrForbidden
	}

	isMember, err := s.groupRepo.IsMember(groupID, userID)
	if err != nil {
		return err
	}
	if isMember {
		return ErrAlreadyMember
	}

	if err := s.groupRepo.AddMember(groupID, userID, models.RoleMember); err != nil {
		return err
	}
	s.rosterChanged(groupID)
	return nil
}

func (s *GroupService) LeaveGroup(groupID, userID uint) error {
	if _, err := s.groupRepo.FindByID(groupID); err != nil {
		return groupNotFound(err, groupID)
	}
	isMember, err := s.groupRepo.IsMember(groupID, userID)
	if err != nil {
		return err
	}
	if !isMember {
		return models.ErrNotAParticipant
	}
	if err := s.groupRepo.RemoveMember(groupID, userID); err != nil {
		return err
	}
	s.rosterChanged(groupID)
	return nil
}

// GetGroupMembers lists the members of a group to one of its members.
func (s *GroupService) GetGroupMembers(groupID, requesterID uint) ([]models.GroupMember, error) {
	isMember, err := s.IsMember(groupID, requesterID)
	if err != nil {
		return nil, err
	}
	if !isMember {
		return nil, models.ErrNotAParticipant
	}
	return s.groupRepo.GetMembers(groupID)
}

func (s *GroupService) GetUserGroups(userID uint) ([]models.Group, error) {
	return s.groupRepo.GetUserGroups(userID)
}

func (s *GroupService) GetGroup(groupID uint) (*models.Group, error) {
	group, err := s.groupRepo.FindByID(groupID)
	if err != nil {
		return nil, groupNotFound(err, groupID)
	}
	return group, nil
}

// IsMember fails with models.ErrConversationNotFound for unknown groups.
func (s *GroupService) IsMember(groupID, userID uint) (bool, error) {
	if _, err := s.groupRepo.FindByID(groupID); err != nil {
		return false, groupNotFound(err, groupID)
	}
	return s.groupRepo.IsMember(groupID, userID)
}

func (s *GroupService) IsAdmin(groupID, userID uint) (bool, error) {
	role, err := s.groupRepo.GetMemberRole(groupID, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return role == models.RoleAdmin, nil
}

// Members serves the delivery roster: current members with their join times.
func (s *GroupService) Members(groupID uint) ([]models.GroupMember, error) {
	group, err := s.groupRepo.FindByID(groupID)
	if err != nil {
		return nil, groupNotFound(err, groupID)
	}
	return group.Members, nil
}

// JoinedAt returns when userID joined the group, failing with
// models.ErrNotAParticipant when they are not a member.
func (s *GroupService) JoinedAt(groupID, userID uint) (time.Time, error) {
	members, err := s.Members(groupID)
	if err != nil {
		return time.Time{}, err
	}
	for _, m := range members {
		if m.UserID == userID {
			return m.JoinedAt, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %d in group %d", models.ErrNotAParticipant, userID, groupID)
}

func (s *GroupService) MemberIDs(groupID uint) ([]uint, error) {
	ids, err := s.groupRepo.MemberIDs(groupID)
	if err != nil {
		return nil, groupNotFound(err, groupID)
	}
	return ids, nil
}

// rosterChanged drops cached breakdowns, whose recipient rows follow the roster.
func (s *GroupService) rosterChanged(groupID uint) {
	conv := models.GroupConversationID(groupID)
	if err := s.statusCache.InvalidateConversation(context.Background(), conv); err != nil {
		logging.Component("group_service").Warn().Err(err).
			Str(logging.FieldConversationID, conv).
			Msg("failed to invalidate status cache")
	}
}
