package bus

import (
	"context"
	"math/rand"
	"time"
)

// retryDelay spaces out resubscribe attempts for one bridge route. The
// ceiling doubles per consecutive failure from initial up to max, and each
// delay is drawn from [ceiling/2, ceiling] so routes that broke together
// do not retry in lockstep. Owned by a single route goroutine.
type retryDelay struct {
	initial  time.Duration
	max      time.Duration
	failures int
	jitter   func() float64
}

func newRetryDelay(initial, max time.Duration) *retryDelay {
	if max < initial {
		max = initial
	}
	return &retryDelay{initial: initial, max: max, jitter: rand.Float64}
}

// ceiling is the upper bound of the next delay.
func (r *retryDelay) ceiling() time.Duration {
	d := r.initial
	for i := 0; i < r.failures && d < r.max; i++ {
		d *= 2
	}
	if d > r.max || d <= 0 {
		return r.max
	}
	return d
}

// next returns the delay before the next attempt and records the failure.
func (r *retryDelay) next() time.Duration {
	c := r.ceiling()
	r.failures++
	half := c / 2
	return half + time.Duration(r.jitter()*float64(c-half))
}

// wait sleeps for next() or until ctx is done.
func (r *retryDelay) wait(ctx context.Context) error {
	return sleep(ctx, r.next())
}

// reset is called once a subscription delivers again.
func (r *retryDelay) reset() {
	r.failures = 0
}
