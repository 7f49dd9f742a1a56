// Package token holds the access/refresh credential pair used by both the
// HTTP client and the streaming connection. Tokens survive restarts via a
// small JSON file; the file path is optional (empty means memory only).
package token

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"

	"github.com/dgrijalva/jwt-go"
)

type persisted struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type Store struct {
	mu      sync.RWMutex
	path    string
	access  string
	refresh string
	expiry  time.Time
}

// NewStore loads any previously persisted tokens from path.
func NewStore(path string) *Store {
	s := &Store{path: path}
	if path == "" {
		return s
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return s
	}
	var p persisted
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Printf("token: ignoring corrupt store at %s: %v", path, err)
		return s
	}
	s.access = p.AccessToken
	s.refresh = p.RefreshToken
	s.expiry = expiryOf(p.AccessToken)
	return s
}

// Set replaces both tokens and persists them. The expiry is read from the
// access token's exp claim; the token is not verified here, the server owns
// signature validation.
func (s *Store) Set(access, refresh string) {
	s.mu.Lock()
	s.access = access
	s.refresh = refresh
	s.expiry = expiryOf(access)
	s.persistLocked()
	s.mu.Unlock()
}

// Access returns the current access token, or "" when not authenticated.
// Callers must treat "" as "do not attach credentials".
func (s *Store) Access() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access
}

// Refresh returns the current refresh token.
func (s *Store) Refresh() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refresh
}

// Expiry returns the access token's exp claim, or the zero time when the
// token carries none.
func (s *Store) Expiry() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiry
}

func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access != ""
}

// Clear destroys both tokens (logout).
func (s *Store) Clear() {
	s.mu.Lock()
	s.access = ""
	s.refresh = ""
	s.expiry = time.Time{}
	s.persistLocked()
	s.mu.Unlock()
}

func (s *Store) persistLocked() {
	if s.path == "" {
		return
	}
	if s.access == "" && s.refresh == "" {
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			log.Printf("token: remove store: %v", err)
		}
		return
	}
	raw, _ := json.Marshal(persisted{AccessToken: s.access, RefreshToken: s.refresh})
	if err := os.WriteFile(s.path, raw, 0o600); err != nil {
		log.Printf("token: persist store: %v", err)
	}
}

func expiryOf(access string) time.Time {
	if access == "" {
		return time.Time{}
	}
	claims := jwt.MapClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(access, claims); err != nil {
		return time.Time{}
	}
	if exp, ok := claims["exp"].(float64); ok {
		return time.Unix(int64(exp), 0)
	}
	return time.Time{}
}
