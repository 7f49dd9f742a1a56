package stream

import (
	"math"
	"time"
)

// ReconnectDelay computes the wait before reconnect attempt failures+1:
// base × growth^(failures−1), capped at max. The delay is pure data so the
// retry policy is testable without a broker.
func ReconnectDelay(failures int, base time.Duration, growth float64, max time.Duration) time.Duration {
	if failures < 1 {
		failures = 1
	}
	d := float64(base) * math.Pow(growth, float64(failures-1))
	if d <= 0 || d > float64(max) {
		return max
	}
	return time.Duration(d)
}
