// Package backoff computes jittered exponential delays for retry
// republishing. The jitter spreads competing consumer instances out so a
// burst of retryable failures does not come back as a synchronized burst.
package backoff

import (
	"math/rand"
	"time"
)

const int64Max = 1<<63 - 1

// Delay returns a random duration in [0, slotTime * 2^attempts), capped at
// maximum. attempts <= 0 yields zero.
func Delay(attempts int64, slotTime time.Duration, maximum time.Duration) (backoff time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			backoff = maximum
		}
	}()

	if slotTime <= 0 || attempts <= 0 {
		return time.Duration(0)
	}
	umax := uint64(1) << attempts
	if umax > int64Max || umax == 0 {
		return maximum
	}
	n := rand.Int63n(int64(umax))

	// Prevents overflow
	u64Time := uint64(slotTime.Nanoseconds()) * uint64(n)
	if u64Time > int64Max {
		return maximum
	}

	backoff = time.Duration(n) * slotTime
	if backoff > maximum {
		backoff = maximum
	}
	return backoff
}
