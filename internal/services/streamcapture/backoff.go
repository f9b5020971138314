package streamcapture

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes reconnect delays. A read failure always waits Base; repeated
// open failures grow exponentially up to Max with symmetric jitter.
type Backoff struct {
	Base      time.Duration
	Max       time.Duration
	JitterPct int
}

// Delay returns the wait before the next open attempt. failures is the number
// of consecutive failed opens; 0 means the previous handle just died.
func (b Backoff) Delay(failures int) time.Duration {
	if failures <= 0 {
		return b.Base
	}

	grown := float64(b.Base) * math.Pow(2, float64(failures))
	delay := b.Max
	if b.Max <= 0 || grown < float64(b.Max) {
		delay = time.Duration(math.Min(grown, float64(math.MaxInt64/2)))
	}
	if delay < b.Base {
		delay = b.Base
	}

	jitterPct := float64(b.JitterPct) / 100.0
	jitter := time.Duration(float64(delay) * jitterPct * (rand.Float64()*2 - 1))
	return delay + jitter
}
