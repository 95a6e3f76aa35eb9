package utils

import (
	"fmt"

	"github.com/google/uuid"
)

// NewUUID generates a new UUIDv7 (time-based).
func NewUUID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate UUID: %w", err)
	}
	return id.String(), nil
}

// MustNewUUID generates a new UUIDv7 (time-based) and panics if generation fails.
func MustNewUUID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// ParseUUID parses s as a UUID.
func ParseUUID(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}

// ValidateUUID reports whether s parses as a UUID.
func ValidateUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// NewUUIDOrDefault generates a new UUIDv7 (time-based) or returns a default if generation fails.
func NewUUIDOrDefault() string {
	id, err := NewUUID()
	if err != nil {
		// Return a nil UUID string as fallback
		return "00000000-0000-0000-0000-000000000000"
	}
	return id
}
