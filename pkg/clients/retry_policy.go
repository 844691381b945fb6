package clients

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy defines the attempt budget and backoff of the transport.
type RetryPolicy struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	RandomizeFactor float64
}

// DefaultRetryPolicy returns 5 attempts with 4s, 8s, 16s, 32s backoff capped at 60s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  5,
		InitialDelay: 4 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
	}
}

// Validate checks the policy is usable.
func (rp RetryPolicy) Validate() error {
	if rp.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive, got %d", rp.MaxAttempts)
	}
	if rp.InitialDelay < 0 || rp.MaxDelay < 0 {
		return fmt.Errorf("retry delays cannot be negative")
	}
	if rp.Multiplier < 1 {
		return fmt.Errorf("multiplier must be at least 1, got %v", rp.Multiplier)
	}
	return nil
}

// Delay returns the backoff after the given failed attempt, counted from 1.
func (rp RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	// Base delay calculation with exponential backoff
	delay := float64(rp.InitialDelay) * math.Pow(rp.Multiplier, float64(attempt-1))

	// Apply max delay cap
	if rp.MaxDelay > 0 && delay > float64(rp.MaxDelay) {
		delay = float64(rp.MaxDelay)
	}

	// Apply randomization factor (jitter)
	if rp.RandomizeFactor > 0 {
		delta := delay * rp.RandomizeFactor
		minDelay := delay - delta
		maxDelay := delay + delta
		delay = minDelay + rand.Float64()*(maxDelay-minDelay) //nolint:gosec // jitter does not need crypto rand
	}

	return time.Duration(delay)
}
