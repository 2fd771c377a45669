package session

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrAlreadyStarted is returned when Start is called on a used controller.
var ErrAlreadyStarted = errors.New("session already started")

// StoppedMessage is reported when the worker unwinds on a stop request.
const StoppedMessage = "Stopped by user."

// Job processes one row. report is bound to the row and stamps every update.
type Job func(ctx context.Context, row string, report StatusSink) error

// Gate is consulted before every row after the first. Returning false ends
// the session without an error.
type Gate func(ctx context.Context, next string) (bool, error)

// Controller runs the rows of one session on a single worker goroutine. The
// worker is the only goroutine that may touch the browser handle.
type Controller struct {
	signal *Signal
	sink   StatusSink
	gate   Gate
	logger *zap.Logger
	now    func() time.Time

	stateLock sync.Mutex
	started   bool
	done      chan struct{}
	err       error
}

// Option configures a Controller.
type Option func(*Controller)

// WithSink routes status updates to sink.
func WithSink(sink StatusSink) Option {
	return func(c *Controller) {
		if sink != nil {
			c.sink = sink
		}
	}
}

// WithGate installs a gate between rows, e.g. a "continue with next row"
// confirmation.
func WithGate(gate Gate) Option {
	return func(c *Controller) {
		c.gate = gate
	}
}

// NewController binds a controller to signal.
func NewController(signal *Signal, logger *zap.Logger, opts ...Option) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{
		signal: signal,
		sink:   Discard,
		logger: logger.Named("session"),
		now:    time.Now,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Signal returns the pause/stop state shared with the worker.
func (c *Controller) Signal() *Signal {
	return c.signal
}

// Start launches the worker over rows and returns at once. A controller runs
// one session only.
func (c *Controller) Start(ctx context.Context, rows []string, job Job) error {
	c.stateLock.Lock()
	if c.started {
		c.stateLock.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.stateLock.Unlock()

	c.signal.setRunning(true)
	go c.run(ctx, rows, job)
	return nil
}

// Done is closed when the worker has finished.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the worker has finished and returns the joined row errors.
func (c *Controller) Wait() error {
	<-c.done
	return c.err
}

// Run is Start followed by Wait.
func (c *Controller) Run(ctx context.Context, rows []string, job Job) error {
	if err := c.Start(ctx, rows, job); err != nil {
		return err
	}
	return c.Wait()
}

func (c *Controller) run(ctx context.Context, rows []string, job Job) {
	var errs []error
	defer func() {
		c.err = errors.Join(errs...)
		c.signal.setRunning(false)
		close(c.done)
	}()

	c.logger.Info("Session started.", zap.Strings("rows", rows))
	for i, row := range rows {
		if c.signal.StopRequested() {
			c.logger.Info("Session stopped before row.", zap.String("row", row))
			return
		}
		if i > 0 && c.gate != nil {
			next, err := c.gate(ctx, row)
			if err != nil {
				errs = append(errs, err)
				return
			}
			if !next {
				c.logger.Info("Session ended before row.", zap.String("row", row))
				return
			}
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			return
		}

		report := c.rowSink(row)
		err := c.runJob(ctx, row, job, report)
		if err == nil {
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			errs = append(errs, ctxErr)
			return
		}
		c.logger.Error("Row failed.", zap.String("row", row), zap.Error(err))
		report(Status{State: "failed", Message: "Error: " + err.Error()})
		errs = append(errs, fmt.Errorf("row %s: %w", row, err))
	}
	c.logger.Info("Session finished.", zap.Int("rows", len(rows)))
}

// runJob converts a panicking job into an error so the session ends cleanly.
func (c *Controller) runJob(ctx context.Context, row string, job Job, report StatusSink) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Worker panicked.",
				zap.String("row", row),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("panic while filling row: %v", r)
		}
	}()
	return job(ctx, row, report)
}

func (c *Controller) rowSink(row string) StatusSink {
	return func(s Status) {
		s.Row = row
		if s.Time.IsZero() {
			s.Time = c.now()
		}
		c.sink(s)
	}
}
