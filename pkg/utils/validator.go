package utils

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxIdentifierLength bounds user and role identifiers
const MaxIdentifierLength = 128

var (
	identifierRegex   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._@+\-]*$`)
	controlCharsRegex = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
)

// ValidateIdentifier checks a user, role or approver identifier
func ValidateIdentifier(kind, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%s is required", kind)
	}
	if len(id) > MaxIdentifierLength {
		return fmt.Errorf("%s exceeds %d characters", kind, MaxIdentifierLength)
	}
	if !identifierRegex.MatchString(id) {
		return fmt.Errorf("invalid %s: %s", kind, id)
	}
	return nil
}

// SanitizeString strips control characters except tab and newline, then trims surrounding space
func SanitizeString(s string) string {
	return strings.TrimSpace(controlCharsRegex.ReplaceAllString(s, ""))
}
