// internal/browser/page.go
package browser

import "context"

// Page is the page-automation handle the form filler drives. It is not safe
// for concurrent use: exactly one goroutine may hold it at a time.
type Page interface {
	// Navigate loads url and returns once the browser reports the load.
	Navigate(ctx context.Context, url string) error
	// ReadyState returns document.readyState of the current document.
	ReadyState(ctx context.Context) (string, error)
	// Query evaluates xpath against the current document and returns the first
	// match in document order. It does not wait; absence is ErrNotFound.
	Query(ctx context.Context, xpath string) (Element, error)
	// Close releases the handle.
	Close(ctx context.Context) error
}

// Element is a transient handle to a live DOM element. Any page mutation or
// navigation may invalidate it, in which case its methods return ErrStale.
// Handles must never be cached across locator calls.
type Element interface {
	// Query evaluates xpath relative to this element (e.g. "following::input[1]").
	Query(ctx context.Context, xpath string) (Element, error)
	ScrollIntoView(ctx context.Context) error
	RemoveAttribute(ctx context.Context, name string) error
	// Clear empties the value of a text control.
	Clear(ctx context.Context) error
	// Type sends text as key input to the element.
	Type(ctx context.Context, text string) error
	// Value reads back the current value of a text control.
	Value(ctx context.Context) (string, error)
	// Options lists the trimmed visible labels of a select control's options.
	Options(ctx context.Context) ([]string, error)
	// SelectByText selects the option whose trimmed visible label equals text.
	// It returns ErrNoSuchOption when no option matches.
	SelectByText(ctx context.Context, text string) error
	// SelectedText returns the trimmed label of the selected option.
	SelectedText(ctx context.Context) (string, error)
	// SetFiles injects local file paths into a file input.
	SetFiles(ctx context.Context, paths ...string) error
	Click(ctx context.Context) error
	// String describes the element for logs.
	String() string
}
