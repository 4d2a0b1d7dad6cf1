package session

import (
	"regexp"
	"strings"

	"github.com/google/uuid"

	"soulbomber-arena/internal/apperr"
)

var roomNameRegex = regexp.MustCompile(`^[a-zA-Z0-9\s\-_]{1,50}$`)

// ValidateRoomName accepts names of up to 50 letters, digits, spaces,
// dashes and underscores. Callers substitute a default for empty names.
func ValidateRoomName(name string) error {
	if strings.TrimSpace(name) == "" {
		return apperr.New(apperr.CodeInvalidInput, "room name cannot be empty")
	}
	if len(name) > 50 {
		return apperr.New(apperr.CodeInvalidInput, "room name too long (max 50 characters)")
	}
	if !roomNameRegex.MatchString(name) {
		return apperr.New(apperr.CodeInvalidInput, "room name contains invalid characters")
	}
	return nil
}

func ValidateRoomID(id string) error {
	if id == "" {
		return apperr.New(apperr.CodeInvalidInput, "missing roomId")
	}
	if err := uuid.Validate(id); err != nil {
		return apperr.Wrap(err, apperr.CodeInvalidInput, "invalid roomId")
	}
	return nil
}

// SanitizeString drops control and non-ASCII characters and trims spaces.
func SanitizeString(input string) string {
	var result strings.Builder
	for _, r := range input {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			continue
		}
		if r > 127 {
			continue
		}
		result.WriteRune(r)
	}
	return strings.TrimSpace(result.String())
}
