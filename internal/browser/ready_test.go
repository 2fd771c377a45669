package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loadingPage reports "loading" until a number of reads have passed.
type loadingPage struct {
	mu      sync.Mutex
	pending int
	err     error
}

func (p *loadingPage) Navigate(context.Context, string) error { return nil }
func (p *loadingPage) Query(context.Context, string) (Element, error) {
	return nil, ErrNotFound
}
func (p *loadingPage) Close(context.Context) error { return nil }

func (p *loadingPage) ReadyState(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	if p.pending > 0 {
		p.pending--
		return "loading", nil
	}
	return "complete", nil
}

func TestWaitReady(t *testing.T) {
	t.Run("becomes ready", func(t *testing.T) {
		page := &loadingPage{pending: 2}
		require.NoError(t, WaitReady(context.Background(), page, time.Second))
	})

	t.Run("times out", func(t *testing.T) {
		page := &loadingPage{pending: 1 << 20}
		err := WaitReady(context.Background(), page, 120*time.Millisecond)
		assert.ErrorIs(t, err, ErrTimeout)
		assert.ErrorContains(t, err, `state "loading"`)
	})

	t.Run("read errors keep waiting", func(t *testing.T) {
		page := &loadingPage{err: errors.New("target closed")}
		err := WaitReady(context.Background(), page, 80*time.Millisecond)
		assert.ErrorIs(t, err, ErrTimeout)
	})

	t.Run("caller cancels", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := WaitReady(ctx, &loadingPage{pending: 1 << 20}, time.Second)
		assert.ErrorIs(t, err, context.Canceled)
		assert.True(t, IsCanceled(err))
	})
}

func TestIsTransient(t *testing.T) {
	for _, err := range []error{ErrStale, ErrTimeout, ErrNotFound, fmt.Errorf("click: %w", ErrStale)} {
		assert.True(t, IsTransient(err), err)
	}
	for _, err := range []error{ErrNoSuchOption, context.Canceled, errors.New("boom")} {
		assert.False(t, IsTransient(err), err)
	}
}
