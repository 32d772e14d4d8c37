package throttle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/gazette/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	g, err := New()
	require.NoError(t, err)
	assert.Equal(t, DefaultConcurrency, g.Concurrency())
	assert.Equal(t, DefaultDelay, g.delay)
	assert.Equal(t, DefaultTimeout, g.timeout)
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
	}{
		{"zero concurrency", WithConcurrency(0)},
		{"negative delay", WithDelay(-time.Second)},
		{"zero timeout", WithTimeout(0)},
		{"negative backoff", WithRateLimitBackoff(-1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opt)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestGate_BoundsConcurrency(t *testing.T) {
	g, err := New(WithConcurrency(2), WithDelay(0))
	require.NoError(t, err)

	var current, peak atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := g.Do(context.Background(), func(ctx context.Context) error {
				n := current.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				current.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(2))
	assert.Equal(t, 0, g.InFlight())
}

func TestGate_SpacesDispatches(t *testing.T) {
	delay := 40 * time.Millisecond
	g, err := New(WithConcurrency(5), WithDelay(delay))
	require.NoError(t, err)

	var mu sync.Mutex
	var starts []time.Time
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.Do(context.Background(), func(ctx context.Context) error {
				mu.Lock()
				starts = append(starts, time.Now())
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	require.Len(t, starts, 3)
	first, last := starts[0], starts[0]
	for _, s := range starts {
		if s.Before(first) {
			first = s
		}
		if s.After(last) {
			last = s
		}
	}
	// Three dispatches need at least two full delays.
	assert.GreaterOrEqual(t, last.Sub(first), 2*delay-5*time.Millisecond)
}

func TestGate_TimeoutReleasesSlot(t *testing.T) {
	g, err := New(WithConcurrency(1), WithDelay(0), WithTimeout(20*time.Millisecond))
	require.NoError(t, err)

	block := make(chan struct{})
	defer close(block)

	err = g.Do(context.Background(), func(ctx context.Context) error {
		<-block // ignores its context
		return nil
	})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 0, g.InFlight())

	// The slot is free again even though the first operation never returned.
	ran := false
	err = g.Do(context.Background(), func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestGate_CallTimeoutOverride(t *testing.T) {
	g, err := New(WithDelay(0), WithTimeout(time.Hour))
	require.NoError(t, err)

	err = g.Do(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, WithCallTimeout(10*time.Millisecond))
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestGate_CanceledContextNeverDispatches(t *testing.T) {
	g, err := New(WithDelay(0))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	err = g.Do(ctx, func(ctx context.Context) error {
		ran = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran)
}

func TestGate_CancelWhileQueued(t *testing.T) {
	g, err := New(WithConcurrency(1), WithDelay(0))
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = g.Do(context.Background(), func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	ran := false
	err = g.Do(ctx, func(ctx context.Context) error {
		ran = true
		return nil
	})
	close(release)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, ran)
}

func TestGate_AdmitsWaitersInOrder(t *testing.T) {
	g, err := New(WithConcurrency(1), WithDelay(0))
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = g.Do(context.Background(), func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	const waiters = 5
	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 1; i <= waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := g.Do(context.Background(), func(ctx context.Context) error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
		// Give each waiter time to queue before the next one.
		time.Sleep(10 * time.Millisecond)
	}
	close(release)
	wg.Wait()

	assert.Equal(t, []int{1, 2, 3, 4, 5}, order)
}

func TestGate_InFlightCompletesAfterCancel(t *testing.T) {
	g, err := New(WithDelay(0))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	err = g.Do(ctx, func(opCtx context.Context) error {
		cancel()
		time.Sleep(10 * time.Millisecond)
		return opCtx.Err()
	})
	assert.NoError(t, err)
}

func TestGate_RateLimitedPausesDispatch(t *testing.T) {
	backoff := 50 * time.Millisecond
	g, err := New(WithDelay(0), WithRateLimitBackoff(backoff))
	require.NoError(t, err)

	err = g.Do(context.Background(), func(ctx context.Context) error {
		return fmt.Errorf("summarize: %w", core.ErrRateLimited)
	})
	require.ErrorIs(t, err, core.ErrRateLimited)

	start := time.Now()
	require.NoError(t, g.Do(context.Background(), func(ctx context.Context) error { return nil }))
	assert.GreaterOrEqual(t, time.Since(start), backoff-5*time.Millisecond)
}

func TestGate_PropagatesErrorsAndPanics(t *testing.T) {
	g, err := New(WithDelay(0))
	require.NoError(t, err)

	boom := errors.New("boom")
	assert.ErrorIs(t, g.Do(context.Background(), func(ctx context.Context) error { return boom }), boom)

	err = g.Do(context.Background(), func(ctx context.Context) error { panic("bad") })
	assert.ErrorContains(t, err, "panicked")
	assert.Equal(t, 0, g.InFlight())
}
