// Package fields writes values into labelled form controls and verifies
// they stuck. Partial postbacks can replace a control between being located
// and being written, so every write runs inside a bounded retry that waits
// for the page to settle and looks the control up again.
package fields

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/otms-autofill/otms-autofill/internal/browser"
	"github.com/otms-autofill/otms-autofill/internal/locator"
)

// VerificationError means a value was applied but the control reads back
// something else, e.g. the page trimmed or rejected the input.
type VerificationError struct {
	Label string
	Want  string
	Got   string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("value for %q did not stick: wanted %q, read back %q", e.Label, e.Want, e.Got)
}

// Options tunes a Setter. Zero values fall back to the defaults.
type Options struct {
	Retries       int
	LocateTimeout time.Duration
	ReadyTimeout  time.Duration
	StaleBackoff  time.Duration
}

const (
	DefaultRetries       = 3
	DefaultLocateTimeout = 6 * time.Second
	DefaultReadyTimeout  = 6 * time.Second
	DefaultStaleBackoff  = 200 * time.Millisecond
)

func (o Options) withDefaults() Options {
	if o.Retries <= 0 {
		o.Retries = DefaultRetries
	}
	if o.LocateTimeout <= 0 {
		o.LocateTimeout = DefaultLocateTimeout
	}
	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = DefaultReadyTimeout
	}
	if o.StaleBackoff <= 0 {
		o.StaleBackoff = DefaultStaleBackoff
	}
	return o
}

// Setter applies values to the controls of one page.
type Setter struct {
	page    browser.Page
	locator *locator.Locator
	opts    Options
	logger  *zap.Logger
}

// NewSetter binds a Setter to page.
func NewSetter(page browser.Page, loc *locator.Locator, opts Options, logger *zap.Logger) *Setter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Setter{
		page:    page,
		locator: loc,
		opts:    opts.withDefaults(),
		logger:  logger.Named("fields"),
	}
}

// SetText types value into the text control labelled label. It reports
// whether the control reads back value. Failures are logged, never returned.
func (s *Setter) SetText(ctx context.Context, label, value string) bool {
	return s.FillText(ctx, label, value) == nil
}

// SetSelection selects the option best matching value in the drop-down
// labelled label. It reports whether any option ended up selected.
func (s *Setter) SetSelection(ctx context.Context, label, value string) bool {
	return s.FillSelection(ctx, label, value) == nil
}

// FillText is SetText returning the final error for callers that record why
// a field failed.
func (s *Setter) FillText(ctx context.Context, label, value string) error {
	return s.retry(ctx, label, func(ctx context.Context) error {
		return s.applyText(ctx, label, value)
	})
}

// FillSelection is SetSelection returning the final error.
func (s *Setter) FillSelection(ctx context.Context, label, value string) error {
	return s.retry(ctx, label, func(ctx context.Context) error {
		return s.applySelection(ctx, label, value)
	})
}

func (s *Setter) applyText(ctx context.Context, label, value string) error {
	el, err := s.locator.Locate(ctx, s.page, locator.KindText, label, s.opts.LocateTimeout)
	if err != nil {
		return err
	}
	if err := el.RemoveAttribute(ctx, "readonly"); err != nil {
		return err
	}
	if err := el.ScrollIntoView(ctx); err != nil {
		return err
	}
	if err := el.Clear(ctx); err != nil {
		return err
	}
	if err := el.Type(ctx, value); err != nil {
		return err
	}
	got, err := el.Value(ctx)
	if err != nil {
		return err
	}
	if strings.TrimSpace(got) != strings.TrimSpace(value) {
		return &VerificationError{Label: label, Want: value, Got: got}
	}
	return nil
}

// applySelection keeps whatever option is already selected when value
// matches none, and counts any non-empty selection as success.
func (s *Setter) applySelection(ctx context.Context, label, value string) error {
	el, err := s.locator.Locate(ctx, s.page, locator.KindSelect, label, s.opts.LocateTimeout)
	if err != nil {
		return err
	}

	err = el.SelectByText(ctx, strings.TrimSpace(value))
	if errors.Is(err, browser.ErrNoSuchOption) {
		options, oerr := el.Options(ctx)
		if oerr != nil {
			return oerr
		}
		err = nil
		if match, ok := MatchOption(options, value); ok {
			err = el.SelectByText(ctx, match)
		} else {
			s.logger.Warn("No option matches value; keeping the current selection.",
				zap.String("label", label),
				zap.String("value", value),
				zap.Strings("options", options))
		}
	}
	if err != nil {
		return err
	}

	chosen, err := el.SelectedText(ctx)
	if err != nil {
		return err
	}
	if strings.TrimSpace(chosen) == "" {
		return &VerificationError{Label: label, Want: value, Got: chosen}
	}
	return nil
}

// retry runs attempt up to Retries times. Stale, timeout, not-found and
// verification failures back off, wait for the document to be ready and try
// again. Any other failure ends the loop at once.
func (s *Setter) retry(ctx context.Context, label string, attempt func(context.Context) error) error {
	var last error
	attempts := 0
	for attempts < s.opts.Retries {
		attempts++
		err := attempt(ctx)
		if err == nil {
			if attempts > 1 {
				s.logger.Debug("Field set after retry.", zap.String("label", label), zap.Int("attempt", attempts))
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		last = err
		if !retryable(err) {
			break
		}
		if attempts == s.opts.Retries {
			break
		}

		s.logger.Debug("Transient failure, retrying.",
			zap.String("label", label),
			zap.Int("attempt", attempts),
			zap.Error(err))
		if err := s.settle(ctx); err != nil {
			return err
		}
	}

	s.logger.Warn("Could not set field.",
		zap.String("label", label),
		zap.Int("attempts", attempts),
		zap.Error(last))
	return last
}

// settle sleeps the stale backoff and then waits for document readiness. A
// page that never becomes ready is not fatal: the next attempt will fail on
// its own terms.
func (s *Setter) settle(ctx context.Context) error {
	if s.opts.StaleBackoff > 0 {
		timer := time.NewTimer(s.opts.StaleBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	if err := browser.WaitReady(ctx, s.page, s.opts.ReadyTimeout); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		s.logger.Debug("Page did not become ready.", zap.Error(err))
	}
	return nil
}

func retryable(err error) bool {
	var verr *VerificationError
	return browser.IsTransient(err) || errors.As(err, &verr)
}
