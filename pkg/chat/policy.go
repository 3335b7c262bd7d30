package chat

import (
	"math/rand"
	"time"
)

// ReconnectPolicy decides how long to wait before reconnect attempt n (starting at 1).
// Returning false stops reconnecting.
type ReconnectPolicy interface {
	Next(attempt int) (time.Duration, bool)
}

// FixedDelay retries forever with the same pause.
type FixedDelay struct {
	Delay time.Duration
}

func (p FixedDelay) Next(int) (time.Duration, bool) {
	return p.Delay, true
}

// ExponentialBackoff doubles (by Multiplier) from Base up to Max, with up to
// Jitter fraction of random spread. MaxAttempts <= 0 means unbounded.
type ExponentialBackoff struct {
	Base        time.Duration
	Max         time.Duration
	Multiplier  float64
	Jitter      float64
	MaxAttempts int
}

func (p ExponentialBackoff) Next(attempt int) (time.Duration, bool) {
	if p.MaxAttempts > 0 && attempt > p.MaxAttempts {
		return 0, false
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 2
	}

	d := float64(p.Base)
	for i := 1; i < attempt; i++ {
		d *= mult
		if p.Max > 0 && d >= float64(p.Max) {
			d = float64(p.Max)
			break
		}
	}
	if p.Jitter > 0 {
		d += d * p.Jitter * (rand.Float64()*2 - 1)
	}
	if p.Max > 0 && d > float64(p.Max) {
		d = float64(p.Max)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d), true
}
