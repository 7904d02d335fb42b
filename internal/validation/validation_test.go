package validation

import (
	"errors"
	"reflect"
	"testing"

	"github.com/google/uuid"
)

func TestTrimAndLimit(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		limit    int
		expected string
	}{
		{"Normal string", "hello world", 20, "hello world"},
		{"String with spaces", "  hello world  ", 20, "hello world"},
		{"String exceeding limit", "hello world this is too long", 10, "hello worl"},
		{"Empty string", "", 20, ""},
		{"String at limit", "hello", 5, "hello"},
		{"Multibyte runes", "héllo wörld", 4, "héll"},
		{"No limit", "  unlimited  ", 0, "unlimited"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := TrimAndLimit(tt.input, tt.limit)
			if result != tt.expected {
				t.Errorf("TrimAndLimit(%q, %d) = %q, want %q", tt.input, tt.limit, result, tt.expected)
			}
		})
	}
}

func TestMessageContent(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		max      int
		expected string
		wantErr  error
	}{
		{"Plain", "hi there", 10, "hi there", nil},
		{"Trimmed", "\n hi \t", 10, "hi", nil},
		{"Cut to max", "abcdefghijkl", 5, "abcde", nil},
		{"Blank", "   ", 10, "", ErrEmptyContent},
		{"Default max", "ok", 0, "ok", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MessageContent(tt.input, tt.max)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("MessageContent(%q) error = %v, want %v", tt.input, err, tt.wantErr)
			}
			if got != tt.expected {
				t.Errorf("MessageContent(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestClientID(t *testing.T) {
	id := uuid.NewString()
	if got, err := ClientID(" " + id + " "); err != nil || got != id {
		t.Errorf("ClientID(valid) = %q, %v; want %q", got, err, id)
	}

	generated, err := ClientID("")
	if err != nil {
		t.Fatalf("ClientID(\"\"): %v", err)
	}
	if _, err := uuid.Parse(generated); err != nil {
		t.Errorf("generated client id %q is not a UUID", generated)
	}

	if _, err := ClientID("not-a-uuid"); !errors.Is(err, ErrInvalidClientID) {
		t.Errorf("ClientID(invalid) error = %v, want ErrInvalidClientID", err)
	}
}

func TestValidateGroupName(t *testing.T) {
	long := make([]byte, MaxGroupNameLength+1)
	for i := range long {
		long[i] = 'a'
	}

	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{"Simple", "Team", true},
		{"Inner spaces collapse", "  Weekend   plans ", true},
		{"Empty", "", false},
		{"Only spaces", "    ", false},
		{"Too long", string(long), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateGroupName(tt.input); got != tt.expected {
				t.Errorf("ValidateGroupName(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}

	if got := NormalizeGroupName("  Weekend   plans "); got != "Weekend plans" {
		t.Errorf("NormalizeGroupName = %q", got)
	}
}

func TestMessageIDs(t *testing.T) {
	got, err := MessageIDs([]uint{3, 0, 1, 3, 2, 1})
	if err != nil {
		t.Fatalf("MessageIDs: %v", err)
	}
	if want := []uint{3, 1, 2}; !reflect.DeepEqual(got, want) {
		t.Errorf("MessageIDs = %v, want %v", got, want)
	}

	if _, err := MessageIDs(make([]uint, MaxBatchSize+1)); !errors.Is(err, ErrBatchTooLarge) {
		t.Errorf("oversized batch error = %v, want ErrBatchTooLarge", err)
	}
}
