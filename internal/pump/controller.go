// Package pump implements the closed-loop irrigation controller. It watches
// moisture updates against the configured minimum and either commands the
// pump (auto mode) or nudges the user (manual mode), with cooldowns on both
// paths so noisy readings never turn into command or advisory storms.
package pump

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/agricop/greenhouse-core/internal/model"
	"github.com/agricop/greenhouse-core/pkg/metrics"
)

const (
	defaultMoistureMin      = 20.0
	defaultCommandCooldown  = 5 * time.Second
	defaultAdvisoryCooldown = 60 * time.Second
	commandTimeout          = 5 * time.Second
)

// CommandDispatcher delivers a pump command to the device, over whichever
// transport the deployment wires (cloud HTTP API or a broker publish).
type CommandDispatcher interface {
	SendPumpCommand(ctx context.Context, deviceID string, status model.PumpStatus, mode model.PumpMode, moisture float64) error
}

// LocalApplier is the optimistic-update slice of the device session.
type LocalApplier interface {
	ApplyLocalPumpCommand(status model.PumpStatus, mode model.PumpMode)
	Notify(level model.Severity, text string)
}

// Advisor receives the manual-mode low-moisture advisory.
type Advisor interface {
	Publish(model.AlertEvent)
}

type Controller struct {
	dispatcher CommandDispatcher
	session    LocalApplier
	advisor    Advisor
	clock      func() time.Time

	commandCooldown  time.Duration
	advisoryCooldown time.Duration

	mu           sync.Mutex
	lastCmd      model.PumpStatus
	lastCmdAt    time.Time
	lastAdvisory time.Time
}

func NewController(dispatcher CommandDispatcher, session LocalApplier, advisor Advisor) *Controller {
	return &Controller{
		dispatcher:       dispatcher,
		session:          session,
		advisor:          advisor,
		clock:            time.Now,
		commandCooldown:  defaultCommandCooldown,
		advisoryCooldown: defaultAdvisoryCooldown,
	}
}

// Reset clears the cooldown history. Called on device switch so the first
// evaluation for a new device starts from a clean slate.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.lastCmd = ""
	c.lastCmdAt = time.Time{}
	c.lastAdvisory = time.Time{}
	c.mu.Unlock()
}

// Evaluate runs one control cycle against the latest device state. Re-entered
// on every state change; cycles without a known moisture value are no-ops.
func (c *Controller) Evaluate(st model.DeviceState, cfg model.ThresholdConfig) {
	moisture, known := st.Sensor(model.SensorMoisture)
	if !known {
		return
	}

	min := defaultMoistureMin
	if b := cfg.BoundsFor(model.SensorMoisture); b.Min != nil {
		min = *b.Min
	}
	low := moisture < min

	if cfg.AutoMode {
		c.autoCycle(st, moisture, low)
		return
	}
	c.manualAdvisory(st, moisture, min, low)
}

func (c *Controller) autoCycle(st model.DeviceState, moisture float64, low bool) {
	desired := model.PumpOff
	if low {
		desired = model.PumpOn
	}

	now := c.clock()
	c.mu.Lock()
	if c.lastCmd == desired && now.Sub(c.lastCmdAt) < c.commandCooldown {
		c.mu.Unlock()
		return
	}
	// Hysteresis: never re-command a state the device already reports.
	if st.PumpStatus == desired {
		c.mu.Unlock()
		return
	}
	c.lastCmd = desired
	c.lastCmdAt = now
	c.mu.Unlock()

	// Optimistic local update first; a later authoritative state event
	// overwrites it either way.
	c.session.ApplyLocalPumpCommand(desired, model.ModeAuto)

	// Fire-and-forget: a failure is logged and surfaced once, never retried
	// here. The next evaluation cycle re-attempts naturally while the
	// desired state still differs.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		if err := c.dispatcher.SendPumpCommand(ctx, st.DeviceID, desired, model.ModeAuto, moisture); err != nil {
			log.Printf("pump: command %s for %s failed: %v", desired, st.DeviceID, err)
			metrics.PumpCommands.WithLabelValues(string(desired), "error").Inc()
			c.session.Notify(model.SeverityWarning, "Pump command failed; will retry on next reading")
			return
		}
		metrics.PumpCommands.WithLabelValues(string(desired), "ok").Inc()
		log.Printf("pump: commanded %s for %s (moisture=%.1f)", desired, st.DeviceID, moisture)
	}()
}

func (c *Controller) manualAdvisory(st model.DeviceState, moisture, min float64, low bool) {
	if !low || st.PumpStatus == model.PumpOn {
		return
	}

	now := c.clock()
	c.mu.Lock()
	if now.Sub(c.lastAdvisory) < c.advisoryCooldown {
		c.mu.Unlock()
		return
	}
	c.lastAdvisory = now
	c.mu.Unlock()

	metrics.AlertsEmitted.WithLabelValues(string(model.SeverityWarning)).Inc()
	c.advisor.Publish(model.AlertEvent{
		Severity:  model.SeverityWarning,
		Kind:      model.SensorMoisture,
		Value:     moisture,
		DeviceID:  st.DeviceID,
		Message:   "Moisture is low. Please turn on the pump manually from Settings.",
		Timestamp: now,
	})
	log.Printf("pump: manual advisory for %s (moisture=%.1f < min=%.1f)", st.DeviceID, moisture, min)
}
