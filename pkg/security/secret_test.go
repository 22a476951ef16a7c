package security_test

import (
	"strings"
	"testing"

	"github.com/angelmondragon/boletos-backend/pkg/config"
	"github.com/angelmondragon/boletos-backend/pkg/security"
)

func cheapParams() config.PasswordConfig {
	return config.PasswordConfig{
		ArgonMemoryKB:    32768,
		ArgonTime:        1,
		ArgonParallelism: 1,
		ArgonSaltLen:     16,
		ArgonKeyLen:      32,
	}
}

func TestHashAndVerifySecret(t *testing.T) {
	hash, err := security.HashSecret("webhook-shared-secret", cheapParams())
	if err != nil {
		t.Fatalf("HashSecret returned error: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=32768,t=1,p=1$") {
		t.Fatalf("unexpected hash format %q", hash)
	}

	ok, err := security.VerifySecret("webhook-shared-secret", hash)
	if err != nil || !ok {
		t.Fatalf("VerifySecret failed for the correct secret: ok=%v err=%v", ok, err)
	}

	ok, err = security.VerifySecret("bogus", hash)
	if err != nil {
		t.Fatalf("VerifySecret returned error for wrong secret: %v", err)
	}
	if ok {
		t.Fatal("VerifySecret returned true for incorrect secret")
	}
}

func TestVerifySecretRejectsMalformedHash(t *testing.T) {
	if _, err := security.VerifySecret("secret", "not-a-hash"); err != security.ErrInvalidHash {
		t.Fatalf("expected ErrInvalidHash, got %v", err)
	}
	if _, err := security.HashSecret("", cheapParams()); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestSecretVerifier(t *testing.T) {
	hash, err := security.HashSecret("webhook-shared-secret", cheapParams())
	if err != nil {
		t.Fatalf("HashSecret returned error: %v", err)
	}
	verifier, err := security.NewSecretVerifier(hash)
	if err != nil {
		t.Fatalf("NewSecretVerifier: %v", err)
	}

	if verifier.Verify("") || verifier.Verify("wrong") {
		t.Fatal("verifier accepted an invalid token")
	}
	for i := 0; i < 3; i++ {
		if !verifier.Verify("webhook-shared-secret") {
			t.Fatalf("verifier rejected the shared secret on attempt %d", i)
		}
	}
	if verifier.Verify("wrong") {
		t.Fatal("cached digest must not widen acceptance")
	}

	if _, err := security.NewSecretVerifier("garbage"); err == nil {
		t.Fatal("expected malformed hash to be rejected")
	}
}

func TestGenerateSecret(t *testing.T) {
	secret, err := security.GenerateSecret(40)
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	if len(secret) != 40 {
		t.Fatalf("expected 40 chars, got %d", len(secret))
	}
	other, _ := security.GenerateSecret(40)
	if secret == other {
		t.Fatal("expected distinct secrets")
	}
	if _, err := security.GenerateSecret(0); err == nil {
		t.Fatal("expected error for zero length")
	}
}
