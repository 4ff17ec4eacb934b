package auth

import (
	"errors"
	"testing"
	"time"
)

func TestGenerateAndValidateToken(t *testing.T) {
	tm := NewTokenManager()

	token, err := tm.GenerateToken("host-1", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	if token == "" {
		t.Fatal("expected a token")
	}
	if !tm.HasToken("host-1") {
		t.Error("expected a token on file for host-1")
	}

	if err := tm.ValidateToken("host-1", token); err != nil {
		t.Errorf("valid token rejected: %v", err)
	}
	if err := tm.ValidateToken("host-1", "wrong"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
	if err := tm.ValidateToken("host-2", token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for unknown host, got %v", err)
	}
}

func TestGenerateTokenRotates(t *testing.T) {
	tm := NewTokenManager()

	first, err := tm.GenerateToken("host-1", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	second, err := tm.GenerateToken("host-1", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	if first == second {
		t.Fatal("expected a fresh token on re-issue")
	}

	if err := tm.ValidateToken("host-1", first); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("old token should be invalid after re-issue, got %v", err)
	}
	if err := tm.ValidateToken("host-1", second); err != nil {
		t.Errorf("new token rejected: %v", err)
	}
}

func TestExpiredToken(t *testing.T) {
	tm := NewTokenManager()

	token, err := tm.GenerateToken("host-1", -time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	if err := tm.ValidateToken("host-1", token); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}
}

func TestRevokeToken(t *testing.T) {
	tm := NewTokenManager()

	token, err := tm.GenerateToken("host-1", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	tm.RevokeToken("host-1")

	if tm.HasToken("host-1") {
		t.Error("expected no token on file after revocation")
	}
	if err := tm.ValidateToken("host-1", token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken after revocation, got %v", err)
	}
}

func TestCleanupExpiredTokens(t *testing.T) {
	tm := NewTokenManager()

	if _, err := tm.GenerateToken("stale", -time.Minute); err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	if _, err := tm.GenerateToken("fresh", time.Hour); err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	tm.CleanupExpiredTokens()

	if tm.HasToken("stale") {
		t.Error("expired token should have been removed")
	}
	if !tm.HasToken("fresh") {
		t.Error("unexpired token should have been kept")
	}
}

func TestSecureCompare(t *testing.T) {
	if !SecureCompare("Bearer abc", "Bearer abc") {
		t.Error("equal strings should compare true")
	}
	if SecureCompare("Bearer abc", "Bearer abd") {
		t.Error("different strings should compare false")
	}
	if SecureCompare("short", "longer string") {
		t.Error("different lengths should compare false")
	}
}
