package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testGate(t *testing.T) (*Gate, string) {
	t.Helper()
	hash, err := HashSecret("s3cret")
	if err != nil {
		t.Fatalf("HashSecret: %v", err)
	}
	tokens := NewTokenService([]byte("test-signing-key"), 5*time.Minute)
	g := New([]Credential{{APIKey: "key-1", SecretHash: hash}}, tokens, zap.NewNop())
	return g, "s3cret"
}

func TestCreateSession_validCredentials(t *testing.T) {
	g, secret := testGate(t)

	sessionID, token, err := g.CreateSession(context.Background(), "key-1", secret)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if sessionID == "" || token == "" {
		t.Fatal("expected non-empty session id and token")
	}
}

func TestCreateSession_unknownAPIKey(t *testing.T) {
	g, secret := testGate(t)
	_, _, err := g.CreateSession(context.Background(), "nope", secret)
	if !errors.Is(err, ErrUnknownAPIKey) {
		t.Fatalf("expected ErrUnknownAPIKey, got %v", err)
	}
}

func TestCreateSession_wrongSecret(t *testing.T) {
	g, _ := testGate(t)
	_, _, err := g.CreateSession(context.Background(), "key-1", "wrong")
	if !errors.Is(err, ErrBadSecret) {
		t.Fatalf("expected ErrBadSecret, got %v", err)
	}
}

func TestAuthenticate_roundTrip(t *testing.T) {
	g, secret := testGate(t)
	_, token, err := g.CreateSession(context.Background(), "key-1", secret)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	claims, err := g.Authenticate(token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if claims.APIKey != "key-1" {
		t.Errorf("APIKey = %q, want key-1", claims.APIKey)
	}
}

func TestAuthenticate_revokedSession(t *testing.T) {
	g, secret := testGate(t)
	sessionID, token, err := g.CreateSession(context.Background(), "key-1", secret)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	g.RevokeSession(context.Background(), "key-1", sessionID)

	if _, err := g.Authenticate(token); err == nil {
		t.Fatal("expected authentication to fail after revoke")
	}
}

func TestRefreshSession_unknownSession(t *testing.T) {
	g, _ := testGate(t)
	_, err := g.RefreshSession(context.Background(), "key-1", "does-not-exist")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRefreshSession_issuesUsableToken(t *testing.T) {
	g, secret := testGate(t)
	sessionID, _, err := g.CreateSession(context.Background(), "key-1", secret)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	token, err := g.RefreshSession(context.Background(), "key-1", sessionID)
	if err != nil {
		t.Fatalf("RefreshSession: %v", err)
	}
	if _, err := g.Authenticate(token); err != nil {
		t.Fatalf("Authenticate refreshed token: %v", err)
	}
}

func TestRevokeSession_unknownIsNoop(t *testing.T) {
	g, _ := testGate(t)
	g.RevokeSession(context.Background(), "key-1", "does-not-exist")
}

func TestTokenService_rejectsExpired(t *testing.T) {
	tokens := NewTokenService([]byte("k"), -time.Second)
	tok, _, err := tokens.Issue("key-1", "sess-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := tokens.Validate(tok); err == nil {
		t.Fatal("expected expired token to fail validation")
	}
}
