// Package metrics registers the Prometheus instruments for the telemetry
// core. Everything is registered on the default registry and exposed by the
// promhttp handler in cmd.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectionUp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "greenhouse_connection_up",
		Help: "1 while the broker connection is established, 0 otherwise.",
	})

	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "greenhouse_reconnect_attempts_total",
		Help: "Broker reconnect attempts after abnormal closes.",
	})

	MessagesNormalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "greenhouse_messages_normalized_total",
		Help: "Broker messages successfully normalized into canonical events.",
	}, []string{"kind"})

	MessagesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "greenhouse_messages_dropped_total",
		Help: "Broker messages silently dropped as unrecognized or malformed.",
	})

	AlertsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "greenhouse_alerts_emitted_total",
		Help: "Alert events emitted, by severity.",
	}, []string{"severity"})

	PumpCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "greenhouse_pump_commands_total",
		Help: "Pump commands dispatched, by target status and outcome.",
	}, []string{"status", "outcome"})
)
