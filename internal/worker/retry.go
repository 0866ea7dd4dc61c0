package worker

import (
	"math"
	"time"

	"salesync/internal/config"
	"salesync/internal/models"
)

// RetryPolicy defines exponential backoff parameters.
type RetryPolicy struct {
	FloorDelay    time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// PolicyFromConfig builds a policy, falling back to package defaults.
func PolicyFromConfig(cfg config.RetryConfig) RetryPolicy {
	return RetryPolicy{
		FloorDelay:    cfg.FloorDelay,
		MaxDelay:      cfg.MaxDelay,
		BackoffFactor: cfg.Factor,
	}.withDefaults()
}

func (r RetryPolicy) withDefaults() RetryPolicy {
	if r.FloorDelay <= 0 {
		r.FloorDelay = models.RetryFloorDelay
	}
	if r.MaxDelay <= 0 {
		r.MaxDelay = models.RetryMaxDelay
	}
	if r.BackoffFactor < 1 {
		r.BackoffFactor = models.RetryBackoffFactor
	}
	return r
}

// NextDelay returns delay for a given attempt (1-based) with clamping.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	r = r.withDefaults()

	delay := float64(r.FloorDelay) * math.Pow(r.BackoffFactor, float64(attempt-1))
	if delay > float64(r.MaxDelay) || math.IsInf(delay, 0) {
		return r.MaxDelay
	}
	d := time.Duration(delay)
	if d < r.FloorDelay {
		d = r.FloorDelay
	}
	return d
}
