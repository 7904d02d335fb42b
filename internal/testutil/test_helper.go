package testutil

import (
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/noteduco342/om-delivery/internal/models"
	"gorm.io/gorm"
)

const TestJWTSecret = "test-secret-key-for-testing-only"

// TestHelper provides utility functions for tests
type TestHelper struct {
	t *testing.T
}

func NewTestHelper(t *testing.T) *TestHelper {
	return &TestHelper{t: t}
}

// CreateTestMessage builds an unsaved text message with default values.
func (h *TestHelper) CreateTestMessage(conversationID string, senderID uint, content string) *models.Message {
	if conversationID == "" {
		conversationID = models.DirectConversationID(1, 2)
	}
	if senderID == 0 {
		senderID = 1
	}
	if content == "" {
		content = "Test message"
	}

	msg := &models.Message{
		ConversationID: conversationID,
		ClientID:       uuid.NewString(),
		SenderID:       senderID,
		Content:        content,
		MessageType:    models.TextMessage,
		Status:         models.StatusSent,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	if ref, err := models.ParseConversationID(conversationID); err == nil {
		switch ref.Kind {
		case models.DirectConversation:
			if peer, ok := ref.Peer(senderID); ok {
				msg.RecipientID = &peer
			}
		case models.GroupConversation:
			groupID := ref.GroupID
			msg.GroupID = &groupID
		}
	}
	return msg
}

// CreateTestGroup builds an unsaved group created by creatorID.
func (h *TestHelper) CreateTestGroup(name string, creatorID uint) *models.Group {
	if name == "" {
		name = "Test group"
	}
	if creatorID == 0 {
		creatorID = 1
	}
	return &models.Group{Name: name, CreatorID: creatorID}
}

// SetupTestEnv sets up required environment variables for testing
func (h *TestHelper) SetupTestEnv() {
	os.Setenv("JWT_SECRET", TestJWTSecret)
	os.Setenv("DB_HOST", "")
	os.Setenv("REDIS_ADDR", "")
}

// TeardownTestEnv cleans up environment variables after testing
func (h *TestHelper) TeardownTestEnv() {
	os.Unsetenv("JWT_SECRET")
	os.Unsetenv("DB_HOST")
	os.Unsetenv("REDIS_ADDR")
}

// AssertError checks if an error occurred when it should (or shouldn't)
func (h *TestHelper) AssertError(err error, shouldErr bool, testName string) {
	h.t.Helper()
	if (err != nil) != shouldErr {
		if shouldErr {
			h.t.Errorf("%s: expected error but got nil", testName)
		} else {
			h.t.Errorf("%s: unexpected error: %v", testName, err)
		}
	}
}

// AssertEqual checks if two values are equal
func (h *TestHelper) AssertEqual(got, want interface{}, testName string) {
	h.t.Helper()
	if got != want {
		h.t.Errorf("%s: got %v, want %v", testName, got, want)
	}
}

// GetRecordNotFoundError returns gorm.ErrRecordNotFound for repository fakes.
func GetRecordNotFoundError() error {
	return gorm.ErrRecordNotFound
}
