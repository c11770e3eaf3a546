// ABOUTME: Reconnect backoff policy: exponential with jitter and a ceiling.
// ABOUTME: Attempts are unbounded; transient network loss is expected.

package session

import (
	"math/rand"
	"time"
)

// BackoffConfig controls reconnect pacing. The deterministic base doubles
// per attempt up to Ceiling and then holds; Jitter adds a random fraction of
// the base, still capped at Ceiling, to avoid synchronized reconnect storms.
type BackoffConfig struct {
	Initial time.Duration
	Ceiling time.Duration
	Jitter  float64
}

func (c BackoffConfig) withDefaults() BackoffConfig {
	if c.Initial <= 0 {
		c.Initial = time.Second
	}
	if c.Ceiling < c.Initial {
		c.Ceiling = 30 * time.Second
		if c.Ceiling < c.Initial {
			c.Ceiling = c.Initial
		}
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	if c.Jitter > 1 {
		c.Jitter = 1
	}
	return c
}

// Base returns the deterministic delay for the given attempt (0-based):
// Initial * 2^attempt, capped at Ceiling. Monotonically non-decreasing.
func (c BackoffConfig) Base(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := c.Initial
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= c.Ceiling || d <= 0 {
			return c.Ceiling
		}
	}
	if d > c.Ceiling {
		return c.Ceiling
	}
	return d
}

// Delay returns the jittered delay for the given attempt, never above Ceiling.
func (c BackoffConfig) Delay(attempt int) time.Duration {
	base := c.Base(attempt)
	if c.Jitter == 0 {
		return base
	}
	jittered := base + time.Duration(rand.Float64()*c.Jitter*float64(base))
	if jittered > c.Ceiling {
		return c.Ceiling
	}
	return jittered
}
