package poller

import "time"

const (
	defaultInitialDelay = 1 * time.Second
	defaultMaxDelay     = 15 * time.Second
	defaultMultiplier   = 2.0
)

// Backoff controls the wait between status checks of a still-running job.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultBackoff waits 1s, 2s, 4s, 8s and then 15s between checks.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:    defaultInitialDelay,
		Max:        defaultMaxDelay,
		Multiplier: defaultMultiplier,
	}
}

func (b Backoff) normalize() Backoff {
	if b.Initial <= 0 {
		b.Initial = defaultInitialDelay
	}
	if b.Max <= 0 {
		b.Max = defaultMaxDelay
	}
	if b.Max < b.Initial {
		b.Max = b.Initial
	}
	if b.Multiplier < 1 {
		b.Multiplier = defaultMultiplier
	}
	return b
}

// Next returns the delay that follows d.
func (b Backoff) Next(d time.Duration) time.Duration {
	b = b.normalize()
	next := time.Duration(float64(d) * b.Multiplier)
	if next > b.Max || next <= 0 {
		return b.Max
	}
	return next
}

// Delays returns the first n delays of a polling sequence.
func (b Backoff) Delays(n int) []time.Duration {
	b = b.normalize()
	delays := make([]time.Duration, 0, n)
	d := b.Initial
	for i := 0; i < n; i++ {
		delays = append(delays, d)
		d = b.Next(d)
	}
	return delays
}
