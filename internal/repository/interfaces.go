package repository

import (
	"context"
	"time"

	"github.com/noteduco342/om-delivery/internal/models"
)

// MessageRepositoryInterface defines the contract for message repository operations
type MessageRepositoryInterface interface {
	Create(ctx context.Context, message *models.Message) error
	FindInConversation(ctx context.Context, conversationID string, id uint) (*models.Message, error)
	FindByClientID(ctx context.Context, clientID string, senderID uint) (*models.Message, error)
	ListOutstanding(ctx context.Context, conversationID string) ([]models.Message, error)
	ListUnreadFor(ctx context.Context, conversationID string, recipientID uint, since time.Time) ([]uint, error)
	CompareAndSetStatus(ctx context.Context, id uint, expected, next models.MessageStatus) (bool, error)
}

// ReceiptRepositoryInterface defines the contract for per-recipient receipt operations
type ReceiptRepositoryInterface interface {
	ListByMessage(ctx context.Context, messageID uint) ([]models.MessageReceipt, error)
	Get(ctx context.Context, messageID, recipientID uint) (*models.MessageReceipt, error)
	UpsertMonotonic(ctx context.Context, conversationID string, messageID, recipientID uint, level models.ReceiptLevel) (bool, error)
}

// GroupRepositoryInterface defines the contract for group repository operations
type GroupRepositoryInterface interface {
	Create(group *models.Group) error
	FindByID(id uint) (*models.Group, error)
	AddMember(groupID, userID uint, role models.GroupRole) error
	RemoveMember(groupID, userID uint) error
	GetMembers(groupID uint) ([]models.GroupMember, error)
	MemberIDs(groupID uint) ([]uint, error)
	IsMember(groupID, userID uint) (bool, error)
	GetMemberRole(groupID, userID uint) (models.GroupRole, error)
	GetUserGroups(userID uint) ([]models.Group, error)
}
