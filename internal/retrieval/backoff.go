package retrieval

import (
	"context"
	"math"
	"time"
)

// expBackoff computes the jittered wait before retry number attempt
// (0-based): half the capped exponential delay plus a random slice of the
// other half, so concurrent callers spread out.
func expBackoff(initial, ceiling time.Duration, attempt int) time.Duration {
	delay := float64(initial) * math.Pow(2, float64(attempt))
	if delay > float64(ceiling) {
		delay = float64(ceiling)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

// SleepCtx pauses for d or until the context finishes, whichever comes first.
func SleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ClampToBudget bounds a desired sleep to a fraction of the remaining budget
// so a cooldown can never consume a whole request's allotment.
func ClampToBudget(want, remaining time.Duration, fraction float64) time.Duration {
	if fraction <= 0 || fraction > 1 {
		fraction = 0.25
	}
	ceiling := time.Duration(float64(remaining) * fraction)
	if want > ceiling {
		return ceiling
	}
	return want
}
