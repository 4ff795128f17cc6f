package poll

import (
	"math/rand"
	"time"
)

// Config defines parameters for exponential backoff delay calculation.
type Config struct {
	// Initial delay for the first failure
	BaseDelay time.Duration
	// Multiplier for delay on each subsequent failure
	Factor float64
	// Optional maximum delay
	MaxDelay time.Duration
}

// CalculateBackoffDelay calculates the backoff delay for a given number of
// tries using exponential backoff with the provided configuration.
func CalculateBackoffDelay(cfg *Config, tries int) time.Duration {
	if tries <= 0 {
		return 0
	}

	delay := float64(cfg.BaseDelay)
	for i := 1; i < tries; i++ {
		delay *= cfg.Factor
	}

	delayDuration := time.Duration(delay)

	// cap max delay
	if cfg.MaxDelay > 0 && delayDuration > cfg.MaxDelay {
		delayDuration = cfg.MaxDelay
	}

	return delayDuration
}

// Jitter spreads a delay uniformly over [d-spread, d+spread] so that a fleet
// sharing the same failure history does not retry in lockstep. The result is
// never negative. A nil rng or non-positive spread returns d unchanged.
func Jitter(d time.Duration, spread time.Duration, rng *rand.Rand) time.Duration {
	if rng == nil || spread <= 0 {
		return d
	}

	offset := time.Duration(rng.Int63n(int64(2*spread)+1)) - spread
	jittered := d + offset
	if jittered < 0 {
		return 0
	}
	return jittered
}
