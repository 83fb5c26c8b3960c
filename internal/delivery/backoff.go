package delivery

import (
	"math/rand"
	"time"
)

// Policy computes retry spacing. The delay before attempt n+1 is
//
//	min(base * 2^(n-1) * (1 + U[0,1]*jitterPct), cap)
//
// Jitter spreads synchronized retries out; keeping it positive-only
// and <= 100% makes every drawn delay sequence non-decreasing, even
// across the cap boundary.
type Policy struct {
	Base      time.Duration
	Cap       time.Duration
	JitterPct float64
}

func DefaultPolicy() Policy {
	return Policy{Base: 2 * time.Second, Cap: 60 * time.Second, JitterPct: 0.25}
}

// NextDelay returns the wait scheduled after attempt (1-based, the
// attempt that just failed) before the next one runs.
func (p Policy) NextDelay(attempt int) time.Duration {
	return p.delay(attempt, rand.Float64())
}

func (p Policy) delay(attempt int, draw float64) time.Duration {
	n := attempt
	if n < 1 {
		n = 1
	}
	jitter := p.JitterPct
	if jitter < 0 {
		jitter = 0
	}
	if jitter > 1 {
		jitter = 1
	}
	d := float64(p.Base)
	for i := 1; i < n; i++ {
		d *= 2
		if d >= float64(p.Cap) {
			// already saturated, exponent can stop
			d = float64(p.Cap)
			break
		}
	}
	d *= 1 + draw*jitter
	if d > float64(p.Cap) {
		d = float64(p.Cap)
	}
	return time.Duration(d)
}
