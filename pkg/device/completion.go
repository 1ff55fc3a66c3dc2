package device

import (
	"context"
	"time"

	"github.com/anthropics/purple-ethosu/pkg/core"
)

// completion is the wait half of a short-lived request. It is completed at
// most once, under the device mutex, by the response dispatch or a failure
// sweep; the requesting goroutine waits on it with the mutex released.
type completion struct {
	done bool
	err  error
	ch   chan struct{}
}

func newCompletion() *completion {
	return &completion{ch: make(chan struct{})}
}

// complete records the outcome and wakes the waiter. Later calls are
// ignored, so a response racing a failure sweep keeps the first verdict.
// Called with the device mutex held.
func (c *completion) complete(err error) {
	if c.done {
		return
	}
	c.done = true
	c.err = err
	close(c.ch)
}

// waitLocked is the one sanctioned suspension pattern for sub-requests:
// called with the device mutex held, it releases the mutex, waits for the
// completion, a timeout or cancellation, and reacquires the mutex before
// returning. If the completion won a race against the timeout, its verdict
// is preferred.
func (d *Device) waitLocked(ctx context.Context, c *completion, timeout time.Duration, what string) error {
	d.unlock()

	var err error
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.ch:
		err = c.err
	case <-timer.C:
		err = core.NewError(core.StatusTimeout, what+" timed out")
	case <-ctx.Done():
		err = core.NewErrorWithCause(core.StatusInterrupted, what, ctx.Err())
	}

	d.lockWait()

	if c.done {
		err = c.err
	}

	return err
}
