package sync

import (
	"math"
	"math/rand/v2"
	"time"
)

const (
	backoffBase   = 1000 * time.Millisecond
	backoffMax    = 30000 * time.Millisecond
	backoffFloor  = 100 * time.Millisecond
	backoffFactor = 1.5
	backoffJitter = 0.25
)

// backoffDelay computes the retry delay after retryCount consecutive
// failures: base * factor^retryCount, capped, with ±25% jitter and a 100ms
// floor. Retry count resets on any success and on regaining connectivity.
func backoffDelay(retryCount int) time.Duration {
	raw := rawBackoffDelay(retryCount)
	jitter := time.Duration(float64(raw) * backoffJitter * (rand.Float64()*2 - 1))
	d := raw + jitter
	if d < backoffFloor {
		d = backoffFloor
	}
	return d
}

// rawBackoffDelay is the un-jittered delay curve.
func rawBackoffDelay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	d := time.Duration(float64(backoffBase) * math.Pow(backoffFactor, float64(retryCount)))
	if d > backoffMax || d <= 0 {
		d = backoffMax
	}
	return d
}
