// Package api is the client for the cloud HTTP collaborator: pump/mode
// commands and historical stream data. Calls run behind a circuit breaker,
// attach the current access token, and retry exactly once after a token
// refresh when the server reports an invalid token.
package api

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

	"github.com/sony/gobreaker"

	"github.com/agricop/greenhouse-core/internal/model"
	"github.com/agricop/greenhouse-core/pkg/dedup"
	"github.com/agricop/greenhouse-core/pkg/token"
)

const pumpTopic = "pmc/pump"

var (
	// ErrDeviceOwnership means the server states the device does not belong
	// to the authenticated account. Surfaced once per session.
	ErrDeviceOwnership = errors.New("api: device does not belong to the user")
	// ErrInvalidToken is the server's invalid-token rejection after a failed
	// refresh.
	ErrInvalidToken = errors.New("api: invalid token")
)

const ownershipReason = "Device does not belong to the user"

// SessionRefresher renews credentials when the server rejects the token.
type SessionRefresher interface {
	RefreshSession(ctx context.Context) error
}

type Client struct {
	base      string
	http      *http.Client
	store     *token.Store
	refresher SessionRefresher
	breaker   *gobreaker.CircuitBreaker
	ownership *dedup.Deduper
}

func NewClient(baseURL string, store *token.Store, refresher SessionRefresher) *Client {
	return &Client{
		base:      strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: 15 * time.Second},
		store:     store,
		refresher: refresher,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:     "cloud-api",
			Interval: 60 * time.Second,
			Timeout:  30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
			// Ownership and token rejections are per-request conditions, not
			// upstream outages; they must not fail-fast unrelated calls.
			IsSuccessful: func(err error) bool {
				return err == nil ||
					errors.Is(err, ErrDeviceOwnership) ||
					errors.Is(err, ErrInvalidToken)
			},
		}),
		// Ownership errors repeat on every periodic refresh; one surfacing
		// per session is enough.
		ownership: dedup.New(24*time.Hour, 100),
	}
}

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

// reason extracts the bare string the server puts in data on failures.
func (e envelope) reason() string {
	var s string
	_ = json.Unmarshal(e.Data, &s)
	return s
}

func (c *Client) do(ctx context.Context, method, path string, body any, out *envelope) error {
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.doOnce(ctx, method, path, body, out, true)
	})
	return err
}

func (c *Client) doOnce(ctx context.Context, method, path string, body any, out *envelope, mayRefresh bool) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if tok := c.store.Access(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}

	var env envelope
	_ = json.Unmarshal(raw, &env)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out != nil {
			*out = env
		}
		return nil
	}

	reason := env.reason()

	if reason == ownershipReason {
		if c.ownership.ShouldProcess(path) {
			log.Printf("api: device does not belong to this account; verify the device ID in the cloud dashboard")
		}
		return ErrDeviceOwnership
	}

	if (resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized) &&
		reason == "Invalid token" {
		if !mayRefresh {
			return ErrInvalidToken
		}
		if rerr := c.refresher.RefreshSession(ctx); rerr != nil {
			return fmt.Errorf("api: token refresh after rejection: %w", rerr)
		}
		return c.doOnce(ctx, method, path, body, out, false)
	}

	if resp.StatusCode == http.StatusMethodNotAllowed {
		return fmt.Errorf("api: %s %s: method not allowed", method, path)
	}
	if reason == "" {
		reason = resp.Status
	}
	return fmt.Errorf("api: %s %s: %s", method, path, reason)
}

// UpdateStateDetails posts a key/value payload to a device state topic.
func (c *Client) UpdateStateDetails(ctx context.Context, deviceID, topic string, payload map[string]any) error {
	body := map[string]any{"deviceId": deviceID, "topic": topic, "payload": payload}
	return c.do(ctx, http.MethodPost, "/update-state-details", body, nil)
}

// UpdatePumpStatus sends a pump ON/OFF command, with the current moisture as
// context when known. The cloud endpoint expects the "pump" key and relays it
// to the device; the direct broker path uses "power" on the state topic
// (see stream.Connection.PublishPumpCommand).
func (c *Client) UpdatePumpStatus(ctx context.Context, deviceID string, status model.PumpStatus, topic string, mode model.PumpMode, moisture *float64) error {
	if topic == "" {
		topic = pumpTopic
	}
	payload := map[string]any{"pump": strings.ToLower(string(status))}
	if mode != "" {
		payload["mode"] = strings.ToLower(string(mode))
	}
	if moisture != nil {
		payload["moisture"] = *moisture
	}
	return c.UpdateStateDetails(ctx, deviceID, topic, payload)
}

// UpdateDeviceMode switches the device between auto and manual.
func (c *Client) UpdateDeviceMode(ctx context.Context, deviceID string, mode model.PumpMode) error {
	return c.UpdateStateDetails(ctx, deviceID, "pmc/mode", map[string]any{
		"mode": strings.ToLower(string(mode)),
	})
}

// SendPumpCommand implements the pump controller's dispatcher over HTTP.
func (c *Client) SendPumpCommand(ctx context.Context, deviceID string, status model.PumpStatus, mode model.PumpMode, moisture float64) error {
	return c.UpdatePumpStatus(ctx, deviceID, status, pumpTopic, mode, &moisture)
}

// GetStateDetails fetches the latest state payload for one device topic.
func (c *Client) GetStateDetails(ctx context.Context, deviceID, topic string) (map[string]any, error) {
	var env envelope
	body := map[string]any{"deviceId": deviceID, "topic": topic}
	if err := c.do(ctx, http.MethodPost, "/get-state-details/device", body, &env); err != nil {
		return nil, err
	}
	if !strings.EqualFold(env.Status, "Success") {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal(env.Data, &out); err != nil {
		return nil, nil
	}
	return out, nil
}
