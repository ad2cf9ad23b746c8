package feed

import (
	"math/rand/v2"
	"time"
)

// Backoff returns the reconnect delay after attempts consecutive failures:
// min(base * 2^min(attempts, exponentCap), maxDelay) + jitter.
func Backoff(attempts int, base, maxDelay time.Duration, exponentCap int, jitter time.Duration) time.Duration {
	exp := attempts
	if exp > exponentCap {
		exp = exponentCap
	}
	if exp < 0 {
		exp = 0
	}
	d := base << uint(exp)
	if d <= 0 || d > maxDelay {
		d = maxDelay
	}
	return d + jitter
}

// randomJitter returns a uniform duration in [0, 1s).
func randomJitter() time.Duration {
	return rand.N(time.Second)
}
