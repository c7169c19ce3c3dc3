package pkg

import (
	"context"
	"time"
)

// RunEvery calls fn right away and then once per interval until ctx is done.
// The wait starts after fn returns, so cycles never overlap.
func RunEvery(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		fn(ctx)
		timer.Reset(interval)
	}
}
