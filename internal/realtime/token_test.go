package realtime

import (
	"testing"
	"time"
)

func TestTokenSigner_SignAndVerify(t *testing.T) {
	signer := NewTokenSigner("test-secret")

	token := signer.Sign("u1", time.Hour)

	userID, ok := signer.Verify(token)
	if !ok {
		t.Fatalf("valid token must verify")
	}
	if userID != "u1" {
		t.Fatalf("userID = %q, want u1", userID)
	}
}

func TestTokenSigner_RejectsForeignSignature(t *testing.T) {
	signer := NewTokenSigner("test-secret")
	other := NewTokenSigner("another-secret")

	token := signer.Sign("u1", time.Hour)

	if _, ok := other.Verify(token); ok {
		t.Fatalf("token signed with a different key must not verify")
	}
}

func TestTokenSigner_RejectsExpiredToken(t *testing.T) {
	signer := NewTokenSigner("test-secret")

	token := signer.Sign("u1", -time.Minute)

	if _, ok := signer.Verify(token); ok {
		t.Fatalf("expired token must not verify")
	}
}

func TestTokenSigner_RejectsMalformedToken(t *testing.T) {
	signer := NewTokenSigner("test-secret")

	for _, token := range []string{"", "abc", "a.b", "a.b.c.d"} {
		if _, ok := signer.Verify(token); ok {
			t.Fatalf("malformed token %q must not verify", token)
		}
	}
}

func TestTokenSigner_EmptySecretStillSigns(t *testing.T) {
	// Без секрета в конфигурации подписчик генерирует случайный ключ,
	// токены остаются валидными в пределах процесса.
	signer := NewTokenSigner("")

	token := signer.Sign("u1", time.Hour)

	userID, ok := signer.Verify(token)
	if !ok || userID != "u1" {
		t.Fatalf("Verify = (%q, %v), want (u1, true)", userID, ok)
	}
}

func TestTokenSigner_EmptySecretKeysAreIndependent(t *testing.T) {
	a := NewTokenSigner("")
	b := NewTokenSigner("")

	token := a.Sign("u1", time.Hour)

	if _, ok := b.Verify(token); ok {
		t.Fatalf("signers without a configured secret must not share a key")
	}
}
