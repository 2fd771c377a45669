package session

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Status is one update from the worker to the control surface.
type Status struct {
	Time    time.Time
	Row     string
	State   string
	Message string
	// Step counts the items handled so far out of Steps in the current row.
	Step  int
	Steps int
}

func (s Status) String() string {
	if s.Row == "" {
		return s.Message
	}
	return fmt.Sprintf("[%s] %s", s.Row, s.Message)
}

// StatusSink receives status updates. Sinks are called from the worker
// goroutine and must hand the update over rather than touch UI state.
type StatusSink func(Status)

// Discard drops every update.
func Discard(Status) {}

// LogSink writes updates to logger at info level. It is the status line of
// the plain terminal mode.
func LogSink(logger *zap.Logger) StatusSink {
	logger = logger.Named("status")
	return func(s Status) {
		fields := []zap.Field{zap.String("state", s.State)}
		if s.Row != "" {
			fields = append(fields, zap.String("row", s.Row))
		}
		if s.Steps > 0 {
			fields = append(fields, zap.Int("step", s.Step), zap.Int("steps", s.Steps))
		}
		logger.Info(s.Message, fields...)
	}
}

// Tee fans an update out to every non-nil sink in order.
func Tee(sinks ...StatusSink) StatusSink {
	return func(s Status) {
		for _, sink := range sinks {
			if sink != nil {
				sink(s)
			}
		}
	}
}
