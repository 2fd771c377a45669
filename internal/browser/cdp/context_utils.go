// internal/browser/cdp/context_utils.go
package cdp

import (
	"context"
	"time"
)

// CombineContext returns a context that inherits values from ctx1 and is
// canceled when either ctx1 or ctx2 is done. chromedp keeps the target
// connection in ctx1's values while the caller's deadline lives in ctx2.
func CombineContext(ctx1, ctx2 context.Context) (context.Context, context.CancelFunc) {
	combinedCtx, cancel := context.WithCancel(ctx1)

	go func() {
		select {
		case <-ctx2.Done():
			cancel()
		case <-combinedCtx.Done():
		}
	}()

	return combinedCtx, cancel
}

type valueOnlyContext struct {
	context.Context
}

func (valueOnlyContext) Deadline() (deadline time.Time, ok bool) { return }

func (valueOnlyContext) Done() <-chan struct{} { return nil }

func (valueOnlyContext) Err() error { return nil }

// Detach returns a context carrying ctx's values but none of its deadline or
// cancellation. Cleanup calls use it so they still reach the browser after
// the operation context is done.
func Detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}
