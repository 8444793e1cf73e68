package expeditor

import (
	"math"
	"math/rand"
	"time"
)

// Reconnection backoff reference constants.
const (
	defaultBaseDelay    = 100 * time.Millisecond
	defaultGrowthFactor = 1.3
	defaultMaxDelay     = 2 * time.Second
	defaultJitterFrac   = 0.05
)

// backoffDelay computes the reconnect delay for an attempt:
// min(cap, base*factor^attempt) plus jitter of up to ±jitterFrac of the
// computed delay. The random source is injected so tests are deterministic;
// a nil rng disables jitter.
func backoffDelay(attempt int, base time.Duration, factor float64, cap time.Duration, jitterFrac float64, rng *rand.Rand) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(base) * math.Pow(factor, float64(attempt))
	if delay > float64(cap) {
		delay = float64(cap)
	}
	if rng != nil && jitterFrac > 0 {
		jitter := delay * jitterFrac * (2*rng.Float64() - 1)
		delay += jitter
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
