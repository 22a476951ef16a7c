package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"sync"
)

// SecretVerifier checks presented tokens against an Argon2id hash. The digest
// of the last accepted token is kept so steady webhook traffic does not pay
// for a full Argon2 derivation on every request.
type SecretVerifier struct {
	encoded string

	mu       sync.RWMutex
	accepted [sha256.Size]byte
	known    bool
}

func NewSecretVerifier(encoded string) (*SecretVerifier, error) {
	if _, _, _, err := decodeHash(encoded); err != nil {
		return nil, err
	}
	return &SecretVerifier{encoded: encoded}, nil
}

// Verify reports whether token matches the configured secret.
func (v *SecretVerifier) Verify(token string) bool {
	if v == nil || token == "" {
		return false
	}
	digest := sha256.Sum256([]byte(token))

	v.mu.RLock()
	hit := v.known && subtle.ConstantTimeCompare(digest[:], v.accepted[:]) == 1
	v.mu.RUnlock()
	if hit {
		return true
	}

	ok, err := VerifySecret(token, v.encoded)
	if err != nil || !ok {
		return false
	}
	v.mu.Lock()
	v.accepted = digest
	v.known = true
	v.mu.Unlock()
	return true
}
