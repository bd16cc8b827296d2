package middleware

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Chat input limits.
const (
	MaxMessageLength  = 10000
	MaxRoomLength     = 64
	MaxUsernameLength = 32
)

// ValidateMessageContent validates chat message text.
func ValidateMessageContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return errors.New("message cannot be empty")
	}
	if !utf8.ValidString(content) {
		return errors.New("message must be valid UTF-8")
	}
	if utf8.RuneCountInString(content) > MaxMessageLength {
		return errors.New("message exceeds maximum length")
	}
	return nil
}

// ValidateRoom validates a room name.
func ValidateRoom(room string) error {
	if room == "" {
		return errors.New("room cannot be empty")
	}
	if len(room) > MaxRoomLength {
		return errors.New("room exceeds maximum length")
	}
	return nil
}

// ValidateID validates a record id.
func ValidateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid ID format")
	}
	return nil
}

// ValidateBotUsername validates a bot username. It must be addressable by
// an @mention, so only word characters are allowed.
func ValidateBotUsername(name string) error {
	if name == "" {
		return errors.New("username cannot be empty")
	}
	if len(name) > MaxUsernameLength {
		return errors.New("username exceeds maximum length")
	}
	for _, r := range name {
		if !(r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return errors.New("username may only contain letters, digits and underscores")
		}
	}
	return nil
}
