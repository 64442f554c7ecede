package invoke

import (
	"context"
	"fmt"
	"time"
)

// Run executes fn under a hard wall-clock bound, racing it against a timer.
// On expiry the call is abandoned, not killed: the goroutine may run to
// completion in the background, but its result is never awaited and cannot
// reach the caller. Panics inside fn are recovered and reported as
// KindOther.
func Run(ctx context.Context, timeout time.Duration, fn func() (any, error)) Result {
	type outcome struct {
		value any
		err   error
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", rec)}
			}
		}()
		v, err := fn()
		done <- outcome{value: v, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case o := <-done:
		if o.err != nil {
			return Fail(KindOther, o.err.Error())
		}
		return Ok(o.value)
	case <-timer.C:
		return Fail(KindTimeout, fmt.Sprintf("exceeded %s", timeout))
	case <-ctx.Done():
		// The caller's own deadline or cancellation fired first; report it
		// the same way as the runtime bound.
		return Fail(KindTimeout, ctx.Err().Error())
	}
}
