package custody

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

const APIKeyPrefix = "rc_"

// IssueAPIKey returns a new bearer credential: "rc_" + 43 chars of unpadded base64url.
// Only its hash is ever persisted.
func IssueAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return APIKeyPrefix + base64.RawURLEncoding.EncodeToString(b), nil
}

func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func ValidAPIKeyFormat(key string) bool {
	return strings.HasPrefix(key, APIKeyPrefix)
}
