// Package session implements the API-key/secret authentication gate in
// front of the HTTP dispatcher: api keys and their bcrypt-hashed
// secrets are loaded from configuration at boot, sessions are held in
// a process-memory store, and each session hands out a short-TTL JWT
// bearer token that the dispatcher's middleware validates on every
// API call.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Errors returned by Gate methods. Handlers translate these into the
// HTTP statuses named in the error taxonomy.
var (
	ErrUnknownAPIKey   = errors.New("unknown api key")
	ErrBadSecret       = errors.New("api key secret does not match")
	ErrSessionNotFound = errors.New("session not found")
)

// Credential is one configured API key and its secret's bcrypt hash,
// loaded from app_config.toml at boot.
type Credential struct {
	APIKey     string
	SecretHash string
}

// record is a live session held in memory. Persisted state: none;
// sessions do not survive a process restart.
type record struct {
	id        string
	apiKey    string
	createdAt time.Time
}

// Gate is the session store plus the credential set it authenticates
// against. It is safe for concurrent use.
type Gate struct {
	mu          sync.RWMutex
	credentials map[string]string // apiKey -> bcrypt secret hash
	sessions    map[string]*record
	tokens      *TokenService
	logger      *zap.Logger
}

// New creates a Gate seeded with creds and backed by tokens for
// bearer-token issuance.
func New(creds []Credential, tokens *TokenService, logger *zap.Logger) *Gate {
	g := &Gate{
		credentials: make(map[string]string, len(creds)),
		sessions:    make(map[string]*record),
		tokens:      tokens,
		logger:      logger,
	}
	for _, c := range creds {
		g.credentials[c.APIKey] = c.SecretHash
	}
	return g
}

// HashSecret bcrypt-hashes a plaintext API secret for storage in
// configuration.
func HashSecret(secret string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash api secret: %w", err)
	}
	return string(h), nil
}

// CreateSession validates apiKey/secret and opens a new session,
// returning its id and a freshly issued bearer token.
func (g *Gate) CreateSession(ctx context.Context, apiKey, secret string) (sessionID, token string, err error) {
	g.mu.RLock()
	hash, ok := g.credentials[apiKey]
	g.mu.RUnlock()
	if !ok {
		return "", "", ErrUnknownAPIKey
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)); err != nil {
		return "", "", ErrBadSecret
	}

	id := uuid.New().String()
	tok, _, err := g.tokens.Issue(apiKey, id)
	if err != nil {
		return "", "", err
	}

	g.mu.Lock()
	g.sessions[id] = &record{id: id, apiKey: apiKey, createdAt: time.Now()}
	g.mu.Unlock()

	g.logger.Info("session created", zap.String("api_key", apiKey), zap.String("session_id", id))
	return id, tok, nil
}

// RefreshSession reissues a bearer token for an existing session.
func (g *Gate) RefreshSession(ctx context.Context, apiKey, sessionID string) (token string, err error) {
	g.mu.RLock()
	rec, ok := g.sessions[sessionID]
	g.mu.RUnlock()
	if !ok || rec.apiKey != apiKey {
		return "", ErrSessionNotFound
	}

	tok, _, err := g.tokens.Issue(apiKey, sessionID)
	if err != nil {
		return "", err
	}
	return tok, nil
}

// RevokeSession ends a session. Revoking an unknown session is a
// no-op so DELETE remains idempotent.
func (g *Gate) RevokeSession(ctx context.Context, apiKey, sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if rec, ok := g.sessions[sessionID]; ok && rec.apiKey == apiKey {
		delete(g.sessions, sessionID)
		g.logger.Info("session revoked", zap.String("api_key", apiKey), zap.String("session_id", sessionID))
	}
}

// Authenticate validates a bearer token and confirms the session it
// names is still live.
func (g *Gate) Authenticate(tokenString string) (*Claims, error) {
	claims, err := g.tokens.Validate(tokenString)
	if err != nil {
		return nil, err
	}

	g.mu.RLock()
	rec, ok := g.sessions[claims.SessionID]
	g.mu.RUnlock()
	if !ok || rec.apiKey != claims.APIKey {
		return nil, ErrSessionNotFound
	}
	return claims, nil
}

// SessionCount reports the number of live sessions.
func (g *Gate) SessionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.sessions)
}
