package httpapi

import (
	"strings"
	"testing"
	"time"

	"canteenpos/backend/internal/domain"
)

func TestLoginIssuesParsableToken(t *testing.T) {
	auth := NewAuthManager("unit-test-secret", time.Hour, "123456")

	resp, err := auth.Login(domain.LoginRequest{Username: "register-1", Password: "anything"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if resp.Role != "admin" {
		t.Fatalf("expected admin role, got %q", resp.Role)
	}

	actor, err := auth.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Username != "register-1" || actor.Role != "admin" {
		t.Fatalf("unexpected actor: %+v", actor)
	}
}

func TestLoginRejectsEmptyCredentials(t *testing.T) {
	auth := NewAuthManager("unit-test-secret", time.Hour, "123456")

	if _, err := auth.Login(domain.LoginRequest{Username: " ", Password: "x"}); err == nil {
		t.Fatal("expected error for blank username")
	}
	if _, err := auth.Login(domain.LoginRequest{Username: "x", Password: ""}); err == nil {
		t.Fatal("expected error for blank password")
	}
}

func TestParseTokenRejectsTampering(t *testing.T) {
	auth := NewAuthManager("unit-test-secret", time.Hour, "123456")
	resp, err := auth.Login(domain.LoginRequest{Username: "u", Password: "p"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	tampered := resp.AccessToken[:len(resp.AccessToken)-2] + "xx"
	if _, err := auth.ParseToken(tampered); err == nil {
		t.Fatal("expected error for tampered token")
	}

	other := NewAuthManager("a-different-secret", time.Hour, "123456")
	if _, err := other.ParseToken(resp.AccessToken); err == nil {
		t.Fatal("expected error for token signed with another secret")
	}

	if _, err := auth.ParseToken("not-a-jwt"); err == nil {
		t.Fatal("expected error for malformed token")
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	auth := NewAuthManager("unit-test-secret", time.Millisecond, "123456")
	resp, err := auth.Login(domain.LoginRequest{Username: "u", Password: "p"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	if _, err := auth.ParseToken(resp.AccessToken); err == nil {
		t.Fatal("expected error for expired token")
	}
}

func TestValidateManagerPIN(t *testing.T) {
	auth := NewAuthManager("unit-test-secret", time.Hour, "765432")

	if !auth.ValidateManagerPIN("765432") {
		t.Fatal("expected correct PIN to validate")
	}
	if auth.ValidateManagerPIN("000000") {
		t.Fatal("expected wrong PIN to fail")
	}
	if auth.ValidateManagerPIN("") {
		t.Fatal("expected empty PIN to fail")
	}

	// The PIN is stored hashed, never in the clear.
	if strings.Contains(auth.managerPIN, "765432") {
		t.Fatal("manager PIN stored in plain text")
	}
}
