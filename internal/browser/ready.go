// internal/browser/ready.go
package browser

import (
	"context"
	"fmt"
	"time"
)

// readyPoll is how often WaitReady re-reads document.readyState.
const readyPoll = 50 * time.Millisecond

// WaitReady blocks until the page's document.readyState is "complete" or the
// timeout elapses. Partial postbacks briefly flip the state, so callers use it
// after a stale reference before looking an element up again.
func WaitReady(ctx context.Context, page Page, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(readyPoll)
	defer ticker.Stop()

	var last string
	for {
		state, err := page.ReadyState(waitCtx)
		if err == nil && state == "complete" {
			return nil
		}
		if err == nil {
			last = state
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("document not ready after %v (state %q): %w", timeout, last, ErrTimeout)
		case <-ticker.C:
		}
	}
}
