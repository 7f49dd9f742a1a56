package token

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// makeJWT builds an unsigned token carrying the given claims. The store never
// verifies signatures, it only reads the exp claim.
func makeJWT(t *testing.T, claims map[string]any) string {
	t.Helper()
	header, _ := json.Marshal(map[string]string{"alg": "HS256", "typ": "JWT"})
	body, err := json.Marshal(claims)
	if err != nil {
		t.Fatal(err)
	}
	return base64.RawURLEncoding.EncodeToString(header) + "." +
		base64.RawURLEncoding.EncodeToString(body) + "." +
		base64.RawURLEncoding.EncodeToString([]byte("sig"))
}

func TestStorePersistenceRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	exp := time.Now().Add(time.Hour).Unix()
	access := makeJWT(t, map[string]any{"sub": "user@example.com", "exp": exp})

	s := NewStore(path)
	if s.IsAuthenticated() {
		t.Fatal("fresh store claims to be authenticated")
	}
	s.Set(access, "refresh-opaque")

	// A second store on the same path sees the persisted pair.
	s2 := NewStore(path)
	if s2.Access() != access || s2.Refresh() != "refresh-opaque" {
		t.Fatalf("reloaded store = %q / %q", s2.Access(), s2.Refresh())
	}
	if got := s2.Expiry().Unix(); got != exp {
		t.Errorf("reloaded expiry = %d, want %d", got, exp)
	}
}

func TestStoreClearRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	s := NewStore(path)
	s.Set(makeJWT(t, map[string]any{"exp": time.Now().Unix()}), "r")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("store file not written: %v", err)
	}

	s.Clear()
	if s.IsAuthenticated() || s.Access() != "" || s.Refresh() != "" {
		t.Fatal("cleared store still holds tokens")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("store file survived Clear: %v", err)
	}
}

func TestStoreCorruptFileIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	s := NewStore(path)
	if s.IsAuthenticated() {
		t.Fatal("corrupt store produced tokens")
	}
}

func TestStoreMemoryOnly(t *testing.T) {
	s := NewStore("")
	s.Set(makeJWT(t, map[string]any{"exp": time.Now().Unix()}), "r")
	if !s.IsAuthenticated() {
		t.Fatal("memory-only store lost tokens")
	}
	s.Clear()
	if s.IsAuthenticated() {
		t.Fatal("memory-only store survived Clear")
	}
}

func TestExpiryMissingClaim(t *testing.T) {
	s := NewStore("")
	s.Set(makeJWT(t, map[string]any{"sub": "u"}), "r")
	if !s.Expiry().IsZero() {
		t.Errorf("expiry without exp claim = %v, want zero", s.Expiry())
	}
	s.Set("not-a-jwt", "r")
	if !s.Expiry().IsZero() {
		t.Errorf("expiry of malformed token = %v, want zero", s.Expiry())
	}
	// An opaque token is still usable as a credential.
	if s.Access() != "not-a-jwt" {
		t.Errorf("access = %q", s.Access())
	}
}
