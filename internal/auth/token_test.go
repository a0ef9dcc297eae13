package auth

import (
	"testing"
	"time"
)

func newTestTokens(t *testing.T) *Tokens {
	t.Helper()
	tokens, err := NewTokens(TokenConfig{Secret: "test-secret"})
	if err != nil {
		t.Fatalf("new tokens: %v", err)
	}
	return tokens
}

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	tokens := newTestTokens(t)
	raw, err := tokens.Issue("user-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	subject, err := tokens.VerifySubject(raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if subject != "user-1" {
		t.Fatalf("subject = %q, want user-1", subject)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	tokens := newTestTokens(t)
	if _, err := tokens.VerifySubject("not-a-token"); err == nil {
		t.Fatalf("expected error for malformed token")
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	tokens := newTestTokens(t)
	other, err := NewTokens(TokenConfig{Secret: "other-secret"})
	if err != nil {
		t.Fatalf("new tokens: %v", err)
	}
	raw, err := other.Issue("user-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := tokens.VerifySubject(raw); err == nil {
		t.Fatalf("expected error for token signed with a different secret")
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	tokens, err := NewTokens(TokenConfig{Secret: "test-secret", TTL: time.Nanosecond, Leeway: time.Nanosecond})
	if err != nil {
		t.Fatalf("new tokens: %v", err)
	}
	raw, err := tokens.Issue("user-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := tokens.VerifySubject(raw); err == nil {
		t.Fatalf("expected error for expired token")
	}
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !CheckPassword("s3cret", hash) {
		t.Fatalf("expected password check to pass")
	}
	if CheckPassword("wrong", hash) {
		t.Fatalf("expected password check to fail")
	}
}
