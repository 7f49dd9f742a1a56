package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/agricop/greenhouse-core/pkg/token"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func TestLoginStoresTokenPair(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/get-token" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "Success",
			"data":   map[string]string{"jwtToken": "access-1", "refreshToken": "refresh-1"},
		})
	}))
	defer srv.Close()

	store := token.NewStore("")
	r := NewRefresher(srv.URL, store, "", "")
	if err := r.Login(context.Background(), "user@example.com", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if gotBody["email"] != "user@example.com" || gotBody["password"] != "secret" {
		t.Errorf("request body = %v", gotBody)
	}
	if store.Access() != "access-1" || store.Refresh() != "refresh-1" {
		t.Errorf("store = %q / %q", store.Access(), store.Refresh())
	}
}

func TestLoginTokenFieldFallbacks(t *testing.T) {
	for _, field := range []string{"jwtToken", "token", "accessToken"} {
		t.Run(field, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusOK, map[string]any{
					"status": "Success",
					"data":   map[string]string{field: "tok", "refreshToken": "r"},
				})
			}))
			defer srv.Close()

			store := token.NewStore("")
			r := NewRefresher(srv.URL, store, "", "")
			if err := r.Login(context.Background(), "u@e.com", "s"); err != nil {
				t.Fatalf("login: %v", err)
			}
			if store.Access() != "tok" {
				t.Errorf("access = %q", store.Access())
			}
		})
	}
}

func TestLoginTopLevelTokenObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"token": "tok", "refreshToken": "r"})
	}))
	defer srv.Close()

	store := token.NewStore("")
	r := NewRefresher(srv.URL, store, "", "")
	if err := r.Login(context.Background(), "u@e.com", "s"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if store.Access() != "tok" {
		t.Errorf("access = %q", store.Access())
	}
}

func TestLoginServerRejectionNotRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"status": "Error",
			"data":   "Invalid credentials",
		})
	}))
	defer srv.Close()

	r := NewRefresher(srv.URL, token.NewStore(""), "", "")
	err := r.Login(context.Background(), "u@e.com", "wrong")
	if err == nil {
		t.Fatal("login succeeded with bad credentials")
	}
	if !strings.Contains(err.Error(), "invalid credentials") {
		t.Errorf("error = %v, want friendly credentials message", err)
	}
	if calls != 1 {
		t.Errorf("server rejection retried %d times", calls)
	}
}

func TestLoginValidation(t *testing.T) {
	r := NewRefresher("http://unused", token.NewStore(""), "", "")
	if err := r.Login(context.Background(), "", "s"); err == nil {
		t.Error("empty email accepted")
	}
	if err := r.Login(context.Background(), "not-an-email", "s"); err == nil {
		t.Error("email without @ accepted")
	}
}

func TestRefreshSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/get-new-token" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer refresh-1" {
			t.Errorf("Authorization = %q", got)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "Success",
			"data":   map[string]string{"jwtToken": "access-2"},
		})
	}))
	defer srv.Close()

	store := token.NewStore("")
	store.Set("access-1", "refresh-1")
	r := NewRefresher(srv.URL, store, "", "")
	if err := r.RefreshSession(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if store.Access() != "access-2" {
		t.Errorf("access = %q, want rotated token", store.Access())
	}
	// The refresh token is kept when the server does not rotate it.
	if store.Refresh() != "refresh-1" {
		t.Errorf("refresh = %q, want original", store.Refresh())
	}
}

func TestRefreshWithoutToken(t *testing.T) {
	r := NewRefresher("http://unused", token.NewStore(""), "", "")
	if err := r.RefreshSession(context.Background()); !errors.Is(err, ErrNoRefreshToken) {
		t.Fatalf("err = %v, want ErrNoRefreshToken", err)
	}
}

func TestRejectedRefreshLogsOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"status": "Error",
			"data":   "Invalid refresh token",
		})
	}))
	defer srv.Close()

	store := token.NewStore("")
	store.Set("access-1", "refresh-stale")
	r := NewRefresher(srv.URL, store, "", "")
	var loggedOut bool
	r.OnLogout(func() { loggedOut = true })

	if err := r.RefreshSession(context.Background()); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("err = %v, want ErrSessionExpired", err)
	}
	if store.IsAuthenticated() {
		t.Error("store still authenticated after rejected refresh")
	}
	if !loggedOut {
		t.Error("logout callback not fired")
	}
}

func TestEnsureFromEnv(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "Success",
			"data":   map[string]string{"jwtToken": "tok", "refreshToken": "r"},
		})
	}))
	defer srv.Close()

	store := token.NewStore("")
	r := NewRefresher(srv.URL, store, "user@example.com", "secret")
	if err := r.EnsureFromEnv(context.Background()); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	// Already authenticated: no second login.
	if err := r.EnsureFromEnv(context.Background()); err != nil {
		t.Fatalf("ensure (cached): %v", err)
	}
	if calls != 1 {
		t.Errorf("login called %d times", calls)
	}
}

func TestEnsureFromEnvWithoutCredentials(t *testing.T) {
	r := NewRefresher("http://unused", token.NewStore(""), "", "")
	if err := r.EnsureFromEnv(context.Background()); !errors.Is(err, ErrNoEnvCredentials) {
		t.Fatalf("err = %v, want ErrNoEnvCredentials", err)
	}
}
