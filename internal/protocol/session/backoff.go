package session

import (
	"math"
	"math/rand"
	"time"
)

// NextBackoffDelay returns the retry delay for attempt N (1-based).
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 {
		return cfg.InitialDelay
	}
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay = delay * f
	}
	return time.Duration(delay)
}

// NextRetryDelay returns the wait after the given number of failed attempts
// (1-based) under the fixed schedule.
func NextRetryDelay(cfg RetryConfig, attempts int) time.Duration {
	if len(cfg.Intervals) == 0 {
		cfg.Intervals = DefaultRetryConfig().Intervals
	}
	if attempts < 1 {
		attempts = 1
	}
	if attempts > len(cfg.Intervals) {
		return cfg.Intervals[len(cfg.Intervals)-1]
	}
	return cfg.Intervals[attempts-1]
}
