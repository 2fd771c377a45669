// internal/browser/cdp/errors.go
package cdp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/runtime"

	"github.com/otms-autofill/otms-autofill/internal/browser"
)

// staleMarkers are protocol and script messages meaning the remote object
// behind a handle no longer belongs to the live document.
var staleMarkers = []string{
	"stale element",
	"Cannot find context with specified id",
	"Could not find object with given id",
	"Execution context was destroyed",
	"No node with given id",
	"Node is detached from document",
}

// classify maps a CDP failure onto the browser error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, browser.ErrStale) || errors.Is(err, browser.ErrNotFound) ||
		errors.Is(err, browser.ErrTimeout) || errors.Is(err, browser.ErrNoSuchOption) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%v: %w", err, browser.ErrTimeout)
	}
	msg := err.Error()
	for _, marker := range staleMarkers {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%v: %w", err, browser.ErrStale)
		}
	}
	if strings.Contains(msg, "no such option") {
		return fmt.Errorf("%v: %w", err, browser.ErrNoSuchOption)
	}
	return err
}

// exceptionError turns a script exception into an error.
func exceptionError(exp *runtime.ExceptionDetails) error {
	if exp == nil {
		return nil
	}
	msg := exp.Text
	if exp.Exception != nil && exp.Exception.Description != "" {
		msg = exp.Exception.Description
	}
	return fmt.Errorf("script exception: %s", msg)
}
