package utils

import (
	"testing"
	"time"
)

func TestJWTManager_RoundTrip(t *testing.T) {
	m := NewJWTManager("secret", "pustakam")
	tok, err := m.GenerateToken("user-1", []string{"books:write"}, time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := m.ParseToken(tok)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != "user-1" {
		t.Fatalf("unexpected user: %q", claims.UserID)
	}
	if !claims.HasScope("books:write") || claims.HasScope("admin") {
		t.Fatalf("unexpected scopes: %v", claims.Scopes)
	}
}

func TestJWTManager_Expired(t *testing.T) {
	m := NewJWTManager("secret", "pustakam")
	tok, err := m.GenerateToken("user-1", nil, -time.Minute)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := m.ParseToken(tok); err != ErrExpiredToken {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestJWTManager_WrongSecret(t *testing.T) {
	tok, err := NewJWTManager("a", "pustakam").GenerateToken("u", nil, time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := NewJWTManager("b", "pustakam").ParseToken(tok); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}
