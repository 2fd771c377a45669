package tui

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/otms-autofill/otms-autofill/internal/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func key(s string) tea.KeyMsg {
	switch s {
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	model, ok := next.(Model)
	require.True(t, ok)
	return model, cmd
}

func isQuit(cmd tea.Cmd) bool {
	if cmd == nil {
		return false
	}
	_, ok := cmd().(tea.QuitMsg)
	return ok
}

func TestKeysDriveTheSignal(t *testing.T) {
	signal := session.NewSignal(0)
	m := New(signal, []string{"1"}, make(chan bool, 1))

	m, cmd := update(t, m, key("p"))
	assert.Nil(t, cmd)
	assert.True(t, signal.Paused())
	assert.Contains(t, m.View(), "PAUSED")

	m, _ = update(t, m, key("p"))
	assert.False(t, signal.Paused())

	m, _ = update(t, m, key("s"))
	assert.True(t, signal.StopRequested())
	assert.Contains(t, m.View(), "STOPPED")
}

func TestQuitStopsTheSession(t *testing.T) {
	for _, k := range []string{"q", "ctrl+c"} {
		t.Run(k, func(t *testing.T) {
			signal := session.NewSignal(0)
			answers := make(chan bool, 1)
			m := New(signal, nil, answers)

			_, cmd := update(t, m, key(k))
			assert.True(t, isQuit(cmd))
			assert.True(t, signal.StopRequested())
			assert.False(t, <-answers)
		})
	}
}

func TestStatusUpdatesRender(t *testing.T) {
	signal := session.NewSignal(0)
	m := New(signal, []string{"12", "13"}, make(chan bool, 1))

	m, _ = update(t, m, StatusMsg{Row: "12", State: "uploading", Message: "Uploading: Upload passport", Step: 1, Steps: 4})
	m, _ = update(t, m, StatusMsg{Row: "12", State: "filling", Message: "Filling: Sex", Step: 2, Steps: 4})
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 50, Height: 20})

	view := m.View()
	assert.Contains(t, view, "row 12 (1 of 2)")
	assert.Contains(t, view, "FILLING")
	assert.Contains(t, view, "Filling: Sex")
	assert.Contains(t, view, "[12] Uploading: Upload passport", "previous status moves to the history")
	assert.Contains(t, view, "50%")
}

func TestHistoryIsBounded(t *testing.T) {
	m := New(session.NewSignal(0), nil, nil)
	for i := 0; i < historySize+5; i++ {
		m, _ = update(t, m, StatusMsg{Row: "1", Message: "step"})
	}
	assert.Len(t, m.history, historySize)
}

func TestNextRowPrompt(t *testing.T) {
	answers := make(chan bool, 1)
	m := New(session.NewSignal(0), []string{"1", "2"}, answers)

	m, _ = update(t, m, key("n"))
	select {
	case <-answers:
		t.Fatal("n must be ignored until a row is pending")
	default:
	}

	m, _ = update(t, m, nextRowMsg{row: "2"})
	assert.Contains(t, m.View(), "press n to fill row 2")

	m, _ = update(t, m, key("n"))
	assert.True(t, <-answers)
	assert.NotContains(t, m.View(), "press n")
}

func TestDoneQuits(t *testing.T) {
	m := New(session.NewSignal(0), nil, nil)
	boom := errors.New("browser gone")

	m, cmd := update(t, m, DoneMsg{Err: boom})
	assert.True(t, isQuit(cmd))
	done, err := m.Done()
	assert.True(t, done)
	assert.Equal(t, boom, err)
	assert.Contains(t, m.View(), "Error: browser gone")
}

func TestInitTicksTheSpinner(t *testing.T) {
	m := New(session.NewSignal(0), nil, nil)
	require.NotNil(t, m.Init())
}

// sender records messages instead of running a program.
type sender struct {
	mu   sync.Mutex
	msgs []tea.Msg
	sent chan tea.Msg
}

func (s *sender) Send(msg tea.Msg) {
	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	s.mu.Unlock()
	if s.sent != nil {
		s.sent <- msg
	}
}

func TestBridgeSinkAndDone(t *testing.T) {
	s := &sender{}
	b := NewBridge(s, session.NewSignal(0), nil)

	b.Sink()(session.Status{Row: "1", Message: "Filling: Sex"})
	b.Done(nil)

	require.Len(t, s.msgs, 2)
	assert.Equal(t, StatusMsg{Row: "1", Message: "Filling: Sex"}, s.msgs[0])
	assert.Equal(t, DoneMsg{}, s.msgs[1])
}

func TestBridgeGate(t *testing.T) {
	t.Run("answered", func(t *testing.T) {
		answers := make(chan bool, 1)
		s := &sender{}
		b := NewBridge(s, session.NewSignal(0), answers)
		answers <- true

		ok, err := b.Gate()(context.Background(), "2")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, nextRowMsg{row: "2"}, s.msgs[0])
	})

	t.Run("stopped while waiting", func(t *testing.T) {
		signal := session.NewSignal(0)
		s := &sender{sent: make(chan tea.Msg, 1)}
		b := NewBridge(s, signal, make(chan bool))

		result := make(chan bool, 1)
		go func() {
			ok, _ := b.Gate()(context.Background(), "2")
			result <- ok
		}()
		<-s.sent
		signal.Stop()

		select {
		case ok := <-result:
			assert.False(t, ok)
		case <-time.After(time.Second):
			t.Fatal("gate did not observe stop")
		}
	})

	t.Run("canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		b := NewBridge(&sender{}, session.NewSignal(0), make(chan bool))
		_, err := b.Gate()(ctx, "2")
		assert.ErrorIs(t, err, context.Canceled)
	})
}
