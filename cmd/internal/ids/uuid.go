package ids

import (
	"strings"

	"github.com/google/uuid"
)

// CanonicalUUIDLen is the length of the hyphenated 8-4-4-4-12 form.
const CanonicalUUIDLen = 36

// NewConversationID mints a random (v4) UUID in canonical lower-case form.
func NewConversationID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// IsCanonicalUUID reports whether s is exactly a hyphenated 8-4-4-4-12 hex token.
// uuid.Parse alone is too lenient: it also accepts urn:uuid:, braced and unhyphenated forms.
func IsCanonicalUUID(s string) bool {
	if len(s) != CanonicalUUIDLen {
		return false
	}
	if s[8] != '-' || s[13] != '-' || s[18] != '-' || s[23] != '-' {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// NormalizeUUID lower-cases a canonical UUID; other input is returned trimmed but unchanged.
func NormalizeUUID(s string) string {
	s = strings.TrimSpace(s)
	if IsCanonicalUUID(s) {
		return strings.ToLower(s)
	}
	return s
}
