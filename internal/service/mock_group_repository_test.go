package service

import (
	"sort"
	"time"

	"github.com/noteduco342/om-delivery/internal/models"
	"github.com/noteduco342/om-delivery/internal/testutil"
)

// MockGroupRepository is a mock implementation for tests
// It implements repository.GroupRepositoryInterface.
type MockGroupRepository struct {
	groups      map[uint]*models.Group
	memberships map[uint]map[uint]models.GroupMember
	nextID      uint
	err         error
}

func NewMockGroupRepository() *MockGroupRepository {
	return &MockGroupRepository{
		groups:      make(map[uint]*models.Group),
		memberships: make(map[uint]map[uint]models.GroupMember),
		nextID:      1,
	}
}

func (m *MockGroupRepository) Create(group *models.Group) error {
	if m.err != nil {
		return m.err
	}
	if group.ID == 0 {
		group.ID = m.nextID
		m.nextID++
	}
	m.groups[group.ID] = group
	m.memberships[group.ID] = make(map[uint]models.GroupMember)
	return nil
}

func (m *MockGroupRepository) FindByID(id uint) (*models.Group, error) {
	if m.err != nil {
		return nil, m.err
	}
	g, ok := m.groups[id]
	if !ok {
		return nil, testutil.GetRecordNotFoundError()
	}
	out := *g
	out.Members, _ = m.GetMembers(id)
	return &out, nil
}

func (m *MockGroupRepository) AddMember(groupID, userID uint, role models.GroupRole) error {
	if _, ok := m.memberships[groupID]; !ok {
		m.memberships[groupID] = make(map[uint]models.GroupMember)
	}
	m.memberships[groupID][userID] = models.GroupMember{
		GroupID:  groupID,
		UserID:   userID,
		Role:     role,
		JoinedAt: time.Now(),
	}
	return nil
}

func (m *MockGroupRepository) RemoveMember(groupID, userID uint) error {
	if gm, ok := m.memberships[groupID]; ok {
		delete(gm, userID)
	}
	return nil
}

func (m *MockGroupRepository) GetMembers(groupID uint) ([]models.GroupMember, error) {
	var members []models.GroupMember
	for _, uid := range m.sortedIDs(groupID) {
		members = append(members, m.memberships[groupID][uid])
	}
	return members, nil
}

func (m *MockGroupRepository) MemberIDs(groupID uint) ([]uint, error) {
	if m.err != nil {
		return nil, m.err
	}
	if _, ok := m.groups[groupID]; !ok {
		return nil, testutil.GetRecordNotFoundError()
	}
	return m.sortedIDs(groupID), nil
}

func (m *MockGroupRepository) IsMember(groupID, userID uint) (bool, error) {
	if gm, ok := m.memberships[groupID]; ok {
		_, ok := gm[userID]
		return ok, nil
	}
	return false, nil
}

func (m *MockGroupRepository) GetMemberRole(groupID, userID uint) (models.GroupRole, error) {
	if gm, ok := m.memberships[groupID]; ok {
		if member, ok := gm[userID]; ok {
			return member.Role, nil
		}
	}
	return "", testutil.GetRecordNotFoundError()
}

func (m *MockGroupRepository) GetUserGroups(userID uint) ([]models.Group, error) {
	var out []models.Group
	for gid, gm := range m.memberships {
		if _, ok := gm[userID]; ok {
			if g, ok := m.groups[gid]; ok {
				out = append(out, *g)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockGroupRepository) sortedIDs(groupID uint) []uint {
	ids := make([]uint, 0, len(m.memberships[groupID]))
	for uid := range m.memberships[groupID] {
		ids = append(ids, uid)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
