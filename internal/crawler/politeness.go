package crawler

import (
	"context"
	"time"
)

// Pause sleeps for delay or until ctx is done, whichever comes first.
func Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
