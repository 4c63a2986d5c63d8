package store

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// MaxUserIDLength is the maximum allowed length for user identifier strings.
// AgentCore actor ids share the same limit.
const MaxUserIDLength = 255

// MaxSessionIDLength bounds session identifiers.
const MaxSessionIDLength = 100

var (
	ErrEmptyUserID    = errors.New("user_id is required")
	ErrEmptySessionID = errors.New("session_id is required")
)

// ValidateUserID checks that a user identifier is present and does not exceed MaxUserIDLength.
func ValidateUserID(id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrEmptyUserID
	}
	if len(id) > MaxUserIDLength {
		return fmt.Errorf("user identifier too long: %d chars (max %d)", len(id), MaxUserIDLength)
	}
	return nil
}

// ValidateSessionID checks length and rejects control characters.
func ValidateSessionID(id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrEmptySessionID
	}
	if len(id) > MaxSessionIDLength {
		return fmt.Errorf("session identifier too long: %d chars (max %d)", len(id), MaxSessionIDLength)
	}
	for _, r := range id {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return fmt.Errorf("session identifier contains invalid character %q", r)
		}
	}
	return nil
}
