package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/otms-autofill/otms-autofill/internal/session"
)

// Sender is the part of tea.Program the worker side needs.
type Sender interface {
	Send(msg tea.Msg)
}

// Bridge hands worker events to a running program.
type Bridge struct {
	sender  Sender
	signal  *session.Signal
	answers <-chan bool
}

// NewBridge connects the worker side of a session to sender. answers is the
// channel given to New.
func NewBridge(sender Sender, signal *session.Signal, answers <-chan bool) *Bridge {
	return &Bridge{sender: sender, signal: signal, answers: answers}
}

// Sink forwards status updates into the program.
func (b *Bridge) Sink() session.StatusSink {
	return func(s session.Status) {
		b.sender.Send(StatusMsg(s))
	}
}

// Gate waits for the operator to press n before the next row. A stop or a
// quit ends the session.
func (b *Bridge) Gate() session.Gate {
	return func(ctx context.Context, next string) (bool, error) {
		b.sender.Send(nextRowMsg{row: next})
		select {
		case ok := <-b.answers:
			return ok && !b.signal.StopRequested(), nil
		case <-b.signal.Stopped():
			return false, nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

// Done tells the program the worker finished.
func (b *Bridge) Done(err error) {
	b.sender.Send(DoneMsg{Err: err})
}
