package runtime

import (
	"time"

	"github.com/jpillora/backoff"
)

// BackoffConfig configures the exponential delay applied between retries of
// a transient fetch/sink failure (spec.md §4.4, §7 Transient class).
type BackoffConfig struct {
	Min    time.Duration
	Max    time.Duration
	Factor float64
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{Min: 250 * time.Millisecond, Max: 30 * time.Second, Factor: 2}
}

func (c BackoffConfig) newDecay() *backoff.Backoff {
	return &backoff.Backoff{Min: c.Min, Max: c.Max, Factor: c.Factor, Jitter: true}
}
