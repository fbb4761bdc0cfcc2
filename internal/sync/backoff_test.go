package sync

import (
	"testing"
	"time"
)

func TestRawBackoffGrowsAndCaps(t *testing.T) {
	prev := time.Duration(0)
	for retry := 1; retry <= 20; retry++ {
		d := rawBackoffDelay(retry)
		if d < prev {
			t.Fatalf("raw backoff decreased at retry %d: %v < %v", retry, d, prev)
		}
		if d > backoffMax {
			t.Fatalf("raw backoff exceeded cap at retry %d: %v", retry, d)
		}
		prev = d
	}
	if got := rawBackoffDelay(20); got != backoffMax {
		t.Fatalf("expected cap %v after many retries, got %v", backoffMax, got)
	}
}

func TestBackoffDelayBounds(t *testing.T) {
	for retry := 1; retry <= 15; retry++ {
		raw := rawBackoffDelay(retry)
		lo := time.Duration(float64(raw) * (1 - backoffJitter))
		hi := time.Duration(float64(raw) * (1 + backoffJitter))
		if lo < backoffFloor {
			lo = backoffFloor
		}
		for i := 0; i < 50; i++ {
			d := backoffDelay(retry)
			if d < lo || d > hi {
				t.Fatalf("retry %d: delay %v outside [%v, %v]", retry, d, lo, hi)
			}
			if d < backoffFloor {
				t.Fatalf("retry %d: delay %v below floor", retry, d)
			}
		}
	}
}
