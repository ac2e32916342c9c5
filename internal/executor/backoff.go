package executor

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// linearBackoff implements backoff.BackOff with the fixed two-step ladder
// the spec calls for (0.5s, then 1.5s) rather than cenkalti/backoff's
// built-in exponential growth — a single retry policy covers every
// recoverable step failure the executor sees.
type linearBackoff struct {
	steps []time.Duration
	idx   int
}

// newLinearBackoff builds the standard 0.5s/1.5s two-attempt ladder.
func newLinearBackoff() *linearBackoff {
	return &linearBackoff{steps: []time.Duration{500 * time.Millisecond, 1500 * time.Millisecond}}
}

func (l *linearBackoff) NextBackOff() time.Duration {
	if l.idx >= len(l.steps) {
		return backoff.Stop
	}
	d := l.steps[l.idx]
	l.idx++
	return d
}

func (l *linearBackoff) Reset() {
	l.idx = 0
}
