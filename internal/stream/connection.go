// Package stream maintains the single logical broker connection: connect and
// reconnect with multiplicative backoff, per-device topic subscription, and
// ordered message dispatch. Reconnection policy is held as explicit state
// (failure counter, one-shot refresh flag, circuit) rather than scattered
// booleans, so it can be exercised directly in tests.
package stream

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/agricop/greenhouse-core/internal/model"
	"github.com/agricop/greenhouse-core/pkg/dedup"
	"github.com/agricop/greenhouse-core/pkg/metrics"
)

// State of the logical connection.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosed
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	}
	return "unknown"
}

var (
	// ErrNotConnected is returned by publish operations while the broker
	// connection is down.
	ErrNotConnected = errors.New("stream: not connected")

	errSubSuperseded = errors.New("stream: subscription superseded")
	errNotReady      = errors.New("stream: connection not ready")
)

// Message is one inbound broker message, tagged with the device whose
// subscription delivered it. Late messages from a previously selected device
// keep their old tag, which is what lets the session discard them.
type Message struct {
	DeviceID string
	Channel  string // "stream" or "state"
	Topic    string // per-sensor remainder, e.g. "pmc/temperature"
	Payload  []byte
}

// Handler receives inbound messages. All messages of one subscription are
// dispatched in arrival order on a single path.
type Handler func(Message)

// TokenSource supplies the current access token. It is re-read on every
// connection attempt, since reconnects commonly follow token rotation.
type TokenSource interface {
	Access() string
}

// SessionRefresher re-authenticates with stored credentials. The connection
// invokes it once after repeated consecutive failures.
type SessionRefresher interface {
	RefreshSession(ctx context.Context) error
}

type Config struct {
	BrokerURL string
	ClientID  string

	BaseDelay time.Duration // first reconnect delay
	Growth    float64       // multiplicative backoff factor
	MaxDelay  time.Duration // backoff cap

	RefreshAfterFailures int // one-time credential refresh trigger
	MaxFailures          int // circuit-open threshold
	SubscribeAttempts    int // bounded subscription retry count
}

func (c *Config) withDefaults() {
	if c.BaseDelay <= 0 {
		c.BaseDelay = 5 * time.Second
	}
	if c.Growth <= 1 {
		c.Growth = 1.5
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 60 * time.Second
	}
	if c.RefreshAfterFailures <= 0 {
		c.RefreshAfterFailures = 3
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = 10
	}
	if c.SubscribeAttempts <= 0 {
		c.SubscribeAttempts = 10
	}
}

// Connection manages exactly one logical broker connection with automatic
// recovery. There is no terminal state except an explicit Disconnect; after
// the circuit opens, an explicit Connect resumes.
type Connection struct {
	cfg       Config
	tokens    TokenSource
	refresher SessionRefresher
	newClient func(*mqtt.ClientOptions) mqtt.Client
	deduper   *dedup.Deduper

	mu           sync.Mutex
	state        State
	client       mqtt.Client
	failures     int
	refreshTried bool
	deviceID     string
	handler      Handler
	subCancel    context.CancelFunc
	retryTimer   *time.Timer

	onConnect    []func()
	onDisconnect []func()
	onAuthError  []func()
}

func New(cfg Config, tokens TokenSource, refresher SessionRefresher) *Connection {
	cfg.withDefaults()
	return &Connection{
		cfg:       cfg,
		tokens:    tokens,
		refresher: refresher,
		newClient: mqtt.NewClient,
		state:     StateDisconnected,
		deduper:   dedup.New(10*time.Minute, 20000),
	}
}

// OnConnect registers fn to run after every successful (re)connect.
func (c *Connection) OnConnect(fn func()) {
	c.mu.Lock()
	c.onConnect = append(c.onConnect, fn)
	c.mu.Unlock()
}

// OnDisconnect registers fn to run on every connection loss or close.
func (c *Connection) OnDisconnect(fn func()) {
	c.mu.Lock()
	c.onDisconnect = append(c.onDisconnect, fn)
	c.mu.Unlock()
}

// OnAuthError registers fn to run when the broker rejects the credentials
// outright. Credentials are presumed invalid, not merely expired: the rest
// of the system should treat this as a logout.
func (c *Connection) OnAuthError(fn func()) {
	c.mu.Lock()
	c.onAuthError = append(c.onAuthError, fn)
	c.mu.Unlock()
}

// State returns the current connection state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Failures returns the consecutive abnormal-close count.
func (c *Connection) Failures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures
}

func (c *Connection) IsConnected() bool {
	return c.State() == StateConnected
}

// Connect starts the connection. Idempotent: a no-op while already
// connecting or connected. An explicit Connect also closes the retry
// circuit, resetting the failure counter.
func (c *Connection) Connect() {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateConnected {
		c.mu.Unlock()
		return
	}
	c.failures = 0
	c.refreshTried = false
	c.mu.Unlock()
	c.dial()
}

func (c *Connection) options() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.cfg.BrokerURL)
	opts.SetClientID(c.cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetOrderMatters(true)
	// Reconnection policy is ours, not paho's.
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	// Fresh token on every attempt.
	opts.SetCredentialsProvider(func() (string, string) {
		return "jwt", c.tokens.Access()
	})
	opts.SetOnConnectHandler(func(mqtt.Client) { c.handleConnected() })
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) { c.handleLost(err) })
	return opts
}

func (c *Connection) dial() {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateConnected {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	if c.client == nil {
		c.client = c.newClient(c.options())
	}
	client := c.client
	c.mu.Unlock()

	tok := client.Connect()
	go func() {
		tok.Wait()
		if err := tok.Error(); err != nil {
			c.handleLost(err)
		}
	}()
}

func (c *Connection) handleConnected() {
	c.mu.Lock()
	c.state = StateConnected
	c.failures = 0
	c.refreshTried = false
	deviceID, handler := c.deviceID, c.handler
	callbacks := append([]func(){}, c.onConnect...)
	c.mu.Unlock()

	log.Printf("stream: connected to %s", c.cfg.BrokerURL)
	metrics.ConnectionUp.Set(1)

	// Server-side subscriptions do not survive a reconnect.
	if deviceID != "" {
		if err := c.subscribeTopics(deviceID, handler); err != nil {
			log.Printf("stream: resubscribe %s: %v", deviceID, err)
		}
	}
	for _, fn := range callbacks {
		fn()
	}
}

func (c *Connection) handleLost(err error) {
	metrics.ConnectionUp.Set(0)

	if isAuthError(err) {
		c.mu.Lock()
		c.state = StateErrored
		auth := append([]func(){}, c.onAuthError...)
		disc := append([]func(){}, c.onDisconnect...)
		c.mu.Unlock()
		log.Printf("stream: broker rejected credentials: %v", err)
		for _, fn := range auth {
			fn()
		}
		for _, fn := range disc {
			fn()
		}
		return
	}

	c.mu.Lock()
	c.state = StateErrored
	c.failures++
	n := c.failures
	disc := append([]func(){}, c.onDisconnect...)

	if n >= c.cfg.MaxFailures {
		c.mu.Unlock()
		log.Printf("stream: %d consecutive failures, retry circuit open; call Connect to resume", n)
		for _, fn := range disc {
			fn()
		}
		return
	}

	if n >= c.cfg.RefreshAfterFailures && !c.refreshTried && c.refresher != nil {
		c.refreshTried = true
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if rerr := c.refresher.RefreshSession(ctx); rerr != nil {
				log.Printf("stream: credential refresh failed: %v", rerr)
			} else {
				log.Printf("stream: credentials refreshed, next attempt uses new token")
			}
		}()
	}

	delay := ReconnectDelay(n, c.cfg.BaseDelay, c.cfg.Growth, c.cfg.MaxDelay)
	if c.retryTimer != nil {
		c.retryTimer.Stop()
	}
	c.retryTimer = time.AfterFunc(delay, c.retryDial)
	c.mu.Unlock()

	log.Printf("stream: connection lost (%v), reconnect in %s (failures=%d)", err, delay, n)
	for _, fn := range disc {
		fn()
	}
}

// retryDial runs when a backoff timer fires. The world may have changed
// since the timer was scheduled, so it only proceeds from the errored state.
func (c *Connection) retryDial() {
	c.mu.Lock()
	if c.state != StateErrored {
		c.mu.Unlock()
		return
	}
	c.state = StateDisconnected
	c.mu.Unlock()
	metrics.Reconnects.Inc()
	c.dial()
}

// Subscribe replaces the active device subscription. While disconnected, the
// request is retried with bounded exponential backoff until the connection
// becomes ready, or cancelled outright if the selection changes again — a
// stale retry must never subscribe to the wrong device.
func (c *Connection) Subscribe(deviceID string, handler Handler) {
	c.mu.Lock()
	if c.subCancel != nil {
		c.subCancel()
		c.subCancel = nil
	}
	prev := c.deviceID
	c.deviceID = deviceID
	c.handler = handler
	connected := c.state == StateConnected
	c.mu.Unlock()

	if connected {
		if prev != "" && prev != deviceID {
			c.unsubscribeTopics(prev)
		}
		if err := c.subscribeTopics(deviceID, handler); err != nil {
			log.Printf("stream: subscribe %s: %v", deviceID, err)
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.subCancel = cancel
	c.mu.Unlock()

	go func() {
		defer cancel()
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = 500 * time.Millisecond
		bo.Multiplier = 1.5
		bo.MaxInterval = 5 * time.Second
		bo.RandomizationFactor = 0
		bo.MaxElapsedTime = 0

		op := func() error {
			if c.currentDevice() != deviceID {
				return backoff.Permanent(errSubSuperseded)
			}
			if !c.IsConnected() {
				return errNotReady
			}
			return c.subscribeTopics(deviceID, handler)
		}
		err := backoff.Retry(op, backoff.WithContext(
			backoff.WithMaxRetries(bo, uint64(c.cfg.SubscribeAttempts-1)), ctx))
		if err != nil && !errors.Is(err, errSubSuperseded) && !errors.Is(err, context.Canceled) {
			log.Printf("stream: subscription retry for %s gave up: %v", deviceID, err)
		}
	}()
}

// Unsubscribe removes the device's topics and cancels any pending
// subscription retry for it.
func (c *Connection) Unsubscribe(deviceID string) {
	c.mu.Lock()
	if c.deviceID == deviceID {
		if c.subCancel != nil {
			c.subCancel()
			c.subCancel = nil
		}
		c.deviceID = ""
		c.handler = nil
	}
	connected := c.state == StateConnected
	c.mu.Unlock()

	if connected {
		c.unsubscribeTopics(deviceID)
	}
}

// Disconnect unsubscribes the current device and tears the connection down.
// Idempotent.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	if c.subCancel != nil {
		c.subCancel()
		c.subCancel = nil
	}
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	deviceID := c.deviceID
	client := c.client
	c.state = StateClosed
	disc := append([]func(){}, c.onDisconnect...)
	c.mu.Unlock()

	if client != nil && client.IsConnected() {
		if deviceID != "" {
			c.unsubscribeTopics(deviceID)
		}
		client.Disconnect(250)
	}
	metrics.ConnectionUp.Set(0)
	log.Printf("stream: disconnected")
	for _, fn := range disc {
		fn()
	}
}

// PublishPumpCommand sends {power, mode?} to the device's pump destination.
// The firmware listens for the "power" key on the state topic; the cloud
// API's equivalent endpoint takes "pump" instead (see api.UpdatePumpStatus).
func (c *Connection) PublishPumpCommand(deviceID string, status model.PumpStatus, mode model.PumpMode) error {
	c.mu.Lock()
	client := c.client
	connected := c.state == StateConnected
	c.mu.Unlock()
	if !connected || client == nil {
		return ErrNotConnected
	}

	body := map[string]string{"power": strings.ToLower(string(status))}
	if mode != "" {
		body["mode"] = strings.ToLower(string(mode))
	}
	raw, _ := json.Marshal(body)

	tok := client.Publish(pumpCommandTopic(deviceID), 1, false, raw)
	tok.Wait()
	if err := tok.Error(); err != nil {
		return err
	}
	return nil
}

func (c *Connection) currentDevice() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deviceID
}

func (c *Connection) subscribeTopics(deviceID string, handler Handler) error {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return ErrNotConnected
	}

	for _, topic := range []string{streamTopic(deviceID), stateTopic(deviceID)} {
		tok := client.Subscribe(topic, qosFor(topic), c.dispatcher(deviceID, handler))
		tok.Wait()
		if err := tok.Error(); err != nil {
			return err
		}
		log.Printf("stream: subscribed %s", topic)
	}
	return nil
}

func (c *Connection) unsubscribeTopics(deviceID string) {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return
	}
	tok := client.Unsubscribe(streamTopic(deviceID), stateTopic(deviceID))
	tok.Wait()
	if err := tok.Error(); err != nil {
		log.Printf("stream: unsubscribe %s: %v", deviceID, err)
	}
}

// dispatcher adapts paho delivery to the Handler, tagging each message with
// the device the subscription was made for and dropping QoS1 redeliveries.
func (c *Connection) dispatcher(deviceID string, handler Handler) mqtt.MessageHandler {
	return func(_ mqtt.Client, m mqtt.Message) {
		if handler == nil {
			return
		}
		if m.Qos() == 1 {
			sum := sha256.Sum256(append([]byte(m.Topic()+"|"), m.Payload()...))
			if !c.deduper.ShouldProcess(hex.EncodeToString(sum[:])) {
				return
			}
		}
		channel, rest := splitTopic(deviceID, m.Topic())
		if channel == "" {
			return
		}
		handler(Message{
			DeviceID: deviceID,
			Channel:  channel,
			Topic:    rest,
			Payload:  m.Payload(),
		})
	}
}

func isAuthError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, packets.ErrorRefusedNotAuthorised) ||
		errors.Is(err, packets.ErrorRefusedBadUsernameOrPassword)
}
