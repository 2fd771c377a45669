// Package locator finds form controls by the visible text of the label they
// are paired with. Pages lay fields out as two-column table rows, with a
// looser "first control after the label" fallback.
package locator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/otms-autofill/otms-autofill/internal/browser"
)

const (
	// DefaultPollInterval is used when New is given a non-positive interval.
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultStrategyFloor is the least time any strategy gets, even once
	// the shared deadline has passed.
	DefaultStrategyFloor = time.Second
)

// NotFoundError reports that no strategy produced an element in time.
type NotFoundError struct {
	Label string
	Kind  Kind
	// Last is the error of the last strategy tried.
	Last error
}

func (e *NotFoundError) Error() string {
	if e.Last == nil {
		return fmt.Sprintf("could not locate %s control for label %q", e.Kind, e.Label)
	}
	return fmt.Sprintf("could not locate %s control for label %q: %v", e.Kind, e.Label, e.Last)
}

func (e *NotFoundError) Unwrap() []error {
	if e.Last == nil {
		return []error{browser.ErrNotFound}
	}
	return []error{browser.ErrNotFound, e.Last}
}

// Locator resolves labels to elements. It holds no page state, so one
// Locator can serve any number of pages.
type Locator struct {
	poll   time.Duration
	floor  time.Duration
	logger *zap.Logger
}

// Option configures a Locator.
type Option func(*Locator)

// WithStrategyFloor sets the least time a strategy is polled for. Values
// below the poll interval are raised to it.
func WithStrategyFloor(d time.Duration) Option {
	return func(l *Locator) {
		l.floor = d
	}
}

// New creates a Locator polling every poll.
func New(poll time.Duration, logger *zap.Logger, opts ...Option) *Locator {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Locator{poll: poll, floor: DefaultStrategyFloor, logger: logger.Named("locator")}
	for _, opt := range opts {
		opt(l)
	}
	if l.floor < l.poll {
		l.floor = l.poll
	}
	return l
}

// Locate returns the first element found by the strategies for kind, tried in
// order under one shared deadline. Each strategy gets what is left of the
// deadline but never less than the strategy floor. The winner is scrolled into
// view before it is returned.
func (l *Locator) Locate(ctx context.Context, page browser.Page, kind Kind, label string, timeout time.Duration) (browser.Element, error) {
	strategies := Strategies(kind)
	if len(strategies) == 0 {
		return nil, fmt.Errorf("no locator strategies for %s", kind)
	}
	lit := XPathLiteral(label)
	deadline := time.Now().Add(timeout)

	var last error
	for _, s := range strategies {
		xpath := s.XPath(lit)
		budget := time.Until(deadline)
		if budget < l.floor {
			budget = l.floor
		}

		el, err := l.waitFor(ctx, page, xpath, budget)
		if err == nil {
			if err := el.ScrollIntoView(ctx); err != nil {
				return nil, fmt.Errorf("failed to scroll %q into view: %w", label, err)
			}
			l.logger.Debug("Located element.",
				zap.String("label", label),
				zap.String("strategy", s.Name),
				zap.Stringer("element", el))
			return el, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if !browser.IsTransient(err) {
			return nil, err
		}
		l.logger.Debug("Strategy found nothing.",
			zap.String("label", label),
			zap.String("strategy", s.Name),
			zap.Error(err))
		last = err
	}
	return nil, &NotFoundError{Label: label, Kind: kind, Last: last}
}

// waitFor polls page for xpath until it matches or budget runs out. Stale and
// not-found results are polled through; anything else is returned at once.
func (l *Locator) waitFor(ctx context.Context, page browser.Page, xpath string, budget time.Duration) (browser.Element, error) {
	waitCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(l.poll), 1)
	var last error
	for {
		if err := limiter.Wait(waitCtx); err != nil {
			break
		}
		el, err := page.Query(waitCtx, xpath)
		if err == nil {
			return el, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !browser.IsTransient(err) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		last = err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if last != nil && !errors.Is(last, browser.ErrNotFound) {
		return nil, fmt.Errorf("no match for %s within %v (last error: %v): %w", xpath, budget, last, browser.ErrNotFound)
	}
	return nil, fmt.Errorf("no match for %s within %v: %w", xpath, budget, browser.ErrNotFound)
}
