// internal/browser/errors.go
package browser

import (
	"context"
	"errors"
)

// Error taxonomy shared by every Page implementation.
var (
	// ErrStale means a previously resolved element is no longer attached to
	// the document, typically after a postback replaced part of the page.
	ErrStale = errors.New("stale element reference")
	// ErrNotFound means no element matched a query.
	ErrNotFound = errors.New("element not found")
	// ErrTimeout means a wait on the page ran out of time.
	ErrTimeout = errors.New("timed out waiting on page")
	// ErrNoSuchOption means a select control has no option with the requested label.
	ErrNoSuchOption = errors.New("no option with that label")
)

// IsTransient reports whether err is recoverable by waiting for the page to
// settle and looking the element up again.
func IsTransient(err error) bool {
	return errors.Is(err, ErrStale) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrNotFound)
}

// IsCanceled reports whether err stems from the caller's context being done.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
