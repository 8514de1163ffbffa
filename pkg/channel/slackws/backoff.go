package slackws

import (
	"math/rand"
	"time"
)

const (
	backoffBase      = time.Second
	backoffCap       = 30 * time.Second
	backoffJitterMax = 1500 * time.Millisecond
)

// backoff produces reconnect delays: exponential doubling from base to cap
// plus random jitter so a fleet of gateways does not reconnect in lockstep.
// Not safe for concurrent use; the connect loop owns it.
type backoff struct {
	attempt int
	jitter  func() time.Duration
}

func newBackoff() *backoff {
	return &backoff{
		jitter: func() time.Duration {
			return time.Duration(rand.Int63n(int64(backoffJitterMax)))
		},
	}
}

// next returns the delay for the current failure and advances the counter.
func (b *backoff) next() time.Duration {
	delay := backoffBase
	for i := 0; i < b.attempt && delay < backoffCap; i++ {
		delay *= 2
	}
	if delay > backoffCap {
		delay = backoffCap
	}
	b.attempt++

	return delay + b.jitter()
}

// reset is called after any successful connection.
func (b *backoff) reset() {
	b.attempt = 0
}
