// Package auth handles authentication against the cloud API: login with
// email/secret, session refresh with the stored refresh token, and the
// auto-login path from environment credentials. Concurrent refreshes are
// coalesced so the server only ever sees one in-flight attempt.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"

	"github.com/agricop/greenhouse-core/pkg/token"
)

var (
	// ErrNoRefreshToken means login is required before a refresh is possible.
	ErrNoRefreshToken = errors.New("auth: no refresh token available, log in again")
	// ErrSessionExpired means the refresh token itself was rejected.
	ErrSessionExpired = errors.New("auth: session expired, log in again")
	// ErrNoEnvCredentials means auto-login was requested without credentials
	// in the environment.
	ErrNoEnvCredentials = errors.New("auth: no environment credentials configured")
)

// loginErrMessages maps the server's 400-family reason strings to what the
// user should read.
var loginErrMessages = map[string]string{
	"Invalid email format": "invalid email format, check the email address",
	"Invalid credentials":  "invalid credentials, verify the email and secret key from the cloud dashboard",
	"User not found":       "user not found, check if the email is registered",
	"Email not verified":   "email not verified, verify your email address first",
}

// apiEnvelope is the cloud response wrapper. data is an object on success
// and a bare reason string on failure.
type apiEnvelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

type tokenPayload struct {
	JwtToken     string `json:"jwtToken"`
	Token        string `json:"token"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

func (p tokenPayload) access() string {
	switch {
	case p.JwtToken != "":
		return p.JwtToken
	case p.Token != "":
		return p.Token
	default:
		return p.AccessToken
	}
}

// Refresher owns credential acquisition and renewal for the token store.
type Refresher struct {
	base   string
	http   *http.Client
	store  *token.Store
	group  singleflight.Group
	email  string
	secret string

	onLogout func()
}

func NewRefresher(baseURL string, store *token.Store, email, secret string) *Refresher {
	return &Refresher{
		base:   strings.TrimRight(baseURL, "/"),
		http:   &http.Client{Timeout: 10 * time.Second},
		store:  store,
		email:  email,
		secret: secret,
	}
}

// OnLogout registers the callback fired when a refresh fails with an invalid
// refresh token, i.e. when the system must transition to a logged-out state.
func (r *Refresher) OnLogout(fn func()) { r.onLogout = fn }

// Login authenticates with email and secret and stores the returned token
// pair. Transient network errors are retried briefly; server rejections are
// not.
func (r *Refresher) Login(ctx context.Context, email, secret string) error {
	email = strings.TrimSpace(email)
	secret = strings.TrimSpace(secret)
	if email == "" || secret == "" {
		return errors.New("auth: email and secret are required")
	}
	if !strings.Contains(email, "@") {
		return errors.New("auth: invalid email format")
	}

	body, _ := json.Marshal(map[string]string{"email": email, "password": secret})

	var payload tokenPayload
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.base+"/get-token", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := r.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		p, derr := decodeTokenResponse(resp)
		if derr != nil {
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return backoff.Permanent(derr)
			}
			return derr
		}
		payload = p
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 10 * time.Second
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, 2), ctx)); err != nil {
		return err
	}

	if payload.access() == "" {
		return errors.New("auth: login response carried no token")
	}
	r.store.Set(payload.access(), payload.RefreshToken)
	log.Printf("auth: logged in as %s", email)
	return nil
}

// RefreshSession renews the access token using the stored refresh token.
// Concurrent callers share one request. A rejected refresh token clears the
// store and fires the logout callback; the system never silently retries
// forever with a known-bad credential.
func (r *Refresher) RefreshSession(ctx context.Context) error {
	_, err, _ := r.group.Do("refresh", func() (any, error) {
		return nil, r.refreshSession(ctx)
	})
	return err
}

func (r *Refresher) refreshSession(ctx context.Context) error {
	refresh := r.store.Refresh()
	if refresh == "" {
		return ErrNoRefreshToken
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.base+"/get-new-token", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+refresh)

	resp, err := r.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, derr := decodeTokenResponse(resp)
	if derr != nil {
		var reason *serverReason
		if errors.As(derr, &reason) {
			switch reason.msg {
			case "Refresh token is required":
				return ErrNoRefreshToken
			case "Invalid refresh token":
				r.logout()
				return ErrSessionExpired
			}
		}
		return derr
	}

	access := payload.access()
	if access == "" {
		return errors.New("auth: refresh response carried no token")
	}
	newRefresh := payload.RefreshToken
	if newRefresh == "" {
		newRefresh = refresh
	}
	r.store.Set(access, newRefresh)
	log.Printf("auth: session refreshed")
	return nil
}

// EnsureFromEnv authenticates with environment credentials unless already
// authenticated. Concurrent callers share one login attempt.
func (r *Refresher) EnsureFromEnv(ctx context.Context) error {
	if r.store.IsAuthenticated() {
		return nil
	}
	if r.email == "" || r.secret == "" {
		return ErrNoEnvCredentials
	}
	_, err, _ := r.group.Do("env-login", func() (any, error) {
		if r.store.IsAuthenticated() {
			return nil, nil
		}
		return nil, r.Login(ctx, r.email, r.secret)
	})
	return err
}

func (r *Refresher) logout() {
	r.store.Clear()
	if r.onLogout != nil {
		r.onLogout()
	}
}

// serverReason carries the reason string the cloud returns in the data field
// of a non-2xx response.
type serverReason struct {
	status int
	msg    string
}

func (e *serverReason) Error() string {
	if friendly, ok := loginErrMessages[e.msg]; ok {
		return "auth: " + friendly
	}
	if e.status == http.StatusInternalServerError {
		return "auth: internal server error, try again later"
	}
	return fmt.Sprintf("auth: request failed (%d): %s", e.status, e.msg)
}

func decodeTokenResponse(resp *http.Response) (tokenPayload, error) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return tokenPayload{}, err
	}

	var env apiEnvelope
	if jerr := json.Unmarshal(raw, &env); jerr != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return tokenPayload{}, &serverReason{status: resp.StatusCode, msg: http.StatusText(resp.StatusCode)}
		}
		return tokenPayload{}, fmt.Errorf("auth: decode response: %w", jerr)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var reason string
		_ = json.Unmarshal(env.Data, &reason)
		return tokenPayload{}, &serverReason{status: resp.StatusCode, msg: reason}
	}

	// The token object may sit under data or at the top level.
	var payload tokenPayload
	if len(env.Data) > 0 && json.Unmarshal(env.Data, &payload) == nil && payload.access() != "" {
		return payload, nil
	}
	if json.Unmarshal(raw, &payload) == nil && payload.access() != "" {
		return payload, nil
	}
	return payload, nil
}
