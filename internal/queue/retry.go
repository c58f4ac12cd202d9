package queue

import "time"

// RetryPolicy controls how long a consumer sleeps after a broker failure
// before trying again. Retries never give up; losing the broker is always
// transient from the worker's point of view.
type RetryPolicy struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultRetryPolicy backs off 1s → 30s doubling each attempt.
var DefaultRetryPolicy = RetryPolicy{
	Initial:    time.Second,
	Max:        30 * time.Second,
	Multiplier: 2.0,
}

// Delay returns the sleep before the given attempt (0-based). A zero-value
// policy falls back to DefaultRetryPolicy.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if p.Initial <= 0 {
		p = DefaultRetryPolicy
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	d := p.Initial
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
		if p.Max > 0 && d >= p.Max {
			return p.Max
		}
	}
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return d
}
