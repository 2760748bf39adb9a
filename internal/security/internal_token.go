package security

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// HashInternalToken produces the bcrypt hash configured as INTERNAL_TOKEN_HASH
// for backend callers of the trusted deactivation path.
func HashInternalToken(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) < 16 {
		return "", errors.New("internal token must be at least 16 characters")
	}
	out, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func VerifyInternalToken(hash, raw string) bool {
	if hash == "" || raw == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(raw)) == nil
}
