// Package session owns the signalling between the control surface and the
// single worker that drives the browser: pause, resume, a one-way stop latch
// and status updates travelling back to the surface.
package session

import (
	"context"
	"sync"
	"time"
)

// DefaultPausePoll bounds how long a paused worker takes to notice a resume
// that was not broadcast.
const DefaultPausePoll = 100 * time.Millisecond

// Signal is the shared pause/stop state of one session. The control surface
// mutates it, the worker reads it at its checkpoints. Stop is a latch and is
// never cleared.
type Signal struct {
	mu      sync.Mutex
	running bool
	paused  bool
	stopped bool
	// changed is closed and replaced on every transition so waiters wake up
	// without waiting for the next poll.
	changed chan struct{}
	stopCh  chan struct{}
	poll    time.Duration
}

// NewSignal creates a signal whose AwaitResumed re-checks at least every poll.
func NewSignal(poll time.Duration) *Signal {
	if poll <= 0 {
		poll = DefaultPausePoll
	}
	return &Signal{
		changed: make(chan struct{}),
		stopCh:  make(chan struct{}),
		poll:    poll,
	}
}

func (s *Signal) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// Pause asks the worker to hold at its next checkpoint. It reports whether
// the state changed. Pausing after stop has no effect.
func (s *Signal) Pause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused || s.stopped {
		return false
	}
	s.paused = true
	s.notifyLocked()
	return true
}

// Resume releases a paused worker. It reports whether the state changed.
func (s *Signal) Resume() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		return false
	}
	s.paused = false
	s.notifyLocked()
	return true
}

// Toggle flips between paused and resumed and returns the new paused state.
func (s *Signal) Toggle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return s.paused
	}
	s.paused = !s.paused
	s.notifyLocked()
	return s.paused
}

// Stop latches the stop request. A paused worker is released so it can
// unwind.
func (s *Signal) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.stopCh)
	s.notifyLocked()
}

// Paused reports whether a pause is in effect.
func (s *Signal) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused && !s.stopped
}

// StopRequested reports whether Stop was called.
func (s *Signal) StopRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Stopped is closed once Stop is called.
func (s *Signal) Stopped() <-chan struct{} {
	return s.stopCh
}

// Running reports whether a worker currently owns the session.
func (s *Signal) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Signal) setRunning(running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running != running {
		s.running = running
		s.notifyLocked()
	}
}

// AwaitResumed blocks while the session is paused. It returns nil once
// resumed or stopped, and ctx.Err() if ctx ends first. Callers check
// StopRequested afterwards.
func (s *Signal) AwaitResumed(ctx context.Context) error {
	var ticker *time.Ticker
	for {
		s.mu.Lock()
		if !s.paused || s.stopped {
			s.mu.Unlock()
			if ticker != nil {
				ticker.Stop()
			}
			return nil
		}
		changed := s.changed
		s.mu.Unlock()

		if ticker == nil {
			ticker = time.NewTicker(s.poll)
		}
		select {
		case <-ctx.Done():
			ticker.Stop()
			return ctx.Err()
		case <-changed:
		case <-ticker.C:
		}
	}
}
