package custody

import (
	"crypto/rand"
	"encoding/base64"
	"strings"

	"github.com/pkg/errors"

	"github.com/robinclaw/robinclaw/pkg/secretstore"
)

// LoadMasterKey prefers the secret store and falls back to the raw env value
// (32 bytes, base64 or hex).
func LoadMasterKey(secrets *secretstore.Store, envValue string) ([]byte, error) {
	if secrets != nil {
		raw, ok, err := secrets.GetString(secretstore.KeyMasterKey)
		if err != nil {
			return nil, errors.Wrap(err, "read master key from secret store")
		}
		if ok && strings.TrimSpace(raw) != "" {
			key, err := secretstore.ParseKey(raw)
			if err != nil {
				return nil, errors.Wrapf(err, "secret store %s", secretstore.KeyMasterKey)
			}
			return key, nil
		}
	}
	if strings.TrimSpace(envValue) == "" {
		return nil, errors.New("master key not configured: set ROBINCLAW_MASTER_KEY or import it into the secret store")
	}
	key, err := secretstore.ParseKey(envValue)
	if err != nil {
		return nil, errors.Wrap(err, "ROBINCLAW_MASTER_KEY")
	}
	return key, nil
}

// LoadMnemonic reads the HD wallet mnemonic from the secret store.
func LoadMnemonic(secrets *secretstore.Store) (string, error) {
	if secrets == nil {
		return "", errors.New("secrets store not configured")
	}
	mn, ok, err := secrets.GetString(secretstore.KeyMnemonic)
	if err != nil {
		return "", err
	}
	if !ok || strings.TrimSpace(mn) == "" {
		return "", errors.Errorf("mnemonic not found in secrets store (key=%s)", secretstore.KeyMnemonic)
	}
	return strings.TrimSpace(mn), nil
}

// GenerateMasterKey returns a fresh base64 encoded 32 byte key.
func GenerateMasterKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
