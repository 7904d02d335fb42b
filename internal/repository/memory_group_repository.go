package repository

import (
	"sort"
	"sync"
	"time"

	"github.com/noteduco342/om-delivery/internal/models"
	"gorm.io/gorm"
)

// MemoryGroupRepository keeps groups in process memory for single-node runs
// without Postgres. Missing rows are reported as gorm.ErrRecordNotFound so
// callers handle both implementations the same way.
type MemoryGroupRepository struct {
	mu      sync.RWMutex
	nextID  uint
	groups  map[uint]models.Group
	members map[uint]map[uint]models.GroupMember
}

func NewMemoryGroupRepository() *MemoryGroupRepository {
	return &MemoryGroupRepository{
		nextID:  1,
		groups:  make(map[uint]models.Group),
		members: make(map[uint]map[uint]models.GroupMember),
	}
}

func (r *MemoryGroupRepository) Create(group *models.Group) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if group.ID == 0 {
		group.ID = r.nextID
	}
	if group.ID >= r.nextID {
		r.nextID = group.ID + 1
	}
	now := time.Now()
	group.CreatedAt, group.UpdatedAt = now, now
	stored := *group
	stored.Members = nil
	r.groups[group.ID] = stored
	r.members[group.ID] = make(map[uint]models.GroupMember)
	return nil
}

func (r *MemoryGroupRepository) FindByID(id uint) (*models.Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	g.Members = r.sortedMembers(id)
	return &g, nil
}

func (r *MemoryGroupRepository) AddMember(groupID, userID uint, role models.GroupRole) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.groups[groupID]; !ok {
		return gorm.ErrRecordNotFound
	}
	r.members[groupID][userID] = models.GroupMember{
		GroupID:  groupID,
		UserID:   userID,
		Role:     role,
		JoinedAt: time.Now(),
	}
	return nil
}

func (r *MemoryGroupRepository) RemoveMember(groupID, userID uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members[groupID], userID)
	return nil
}

func (r *MemoryGroupRepository) GetMembers(groupID uint) ([]models.GroupMember, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedMembers(groupID), nil
}

func (r *MemoryGroupRepository) MemberIDs(groupID uint) ([]uint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.groups[groupID]; !ok {
		return nil, gorm.ErrRecordNotFound
	}
	ids := make([]uint, 0, len(r.members[groupID]))
	for id := range r.members[groupID] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r *MemoryGroupRepository) IsMember(groupID, userID uint) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[groupID][userID]
	return ok, nil
}

func (r *MemoryGroupRepository) GetMemberRole(groupID, userID uint) (models.GroupRole, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[groupID][userID]
	if !ok {
		return "", gorm.ErrRecordNotFound
	}
	return m.Role, nil
}

func (r *MemoryGroupRepository) GetUserGroups(userID uint) ([]models.Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.Group
	for id, g := range r.groups {
		if _, ok := r.members[id][userID]; ok {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// sortedMembers must be called with r.mu held.
func (r *MemoryGroupRepository) sortedMembers(groupID uint) []models.GroupMember {
	out := make([]models.GroupMember, 0, len(r.members[groupID]))
	for _, m := range r.members[groupID] {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
