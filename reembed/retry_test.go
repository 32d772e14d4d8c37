package reembed

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/poiesic/gazette/core"
	"github.com/poiesic/gazette/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failing returns an operation that fails with err for its first n calls.
func failing(n int, err error) (func(context.Context) error, *int) {
	calls := 0
	return func(context.Context) error {
		calls++
		if calls <= n {
			return err
		}
		return nil
	}, &calls
}

func TestRetryWithBackoff(t *testing.T) {
	embedErr := fmt.Errorf("%w: upstream 503", core.ErrEmbedding)
	storeErr := fmt.Errorf("writing batch: %w", storage.ErrStoreUnavailable)

	tests := []struct {
		name        string
		failures    int
		err         error
		maxAttempts int
		wantErr     error
		wantCalls   int
	}{
		{"first attempt succeeds", 0, embedErr, 3, nil, 1},
		{"succeeds after two failures", 2, embedErr, 5, nil, 3},
		{"gives up after max attempts", 10, embedErr, 3, core.ErrEmbedding, 3},
		{"single attempt", 10, embedErr, 1, core.ErrEmbedding, 1},
		{"store unavailable is not retried", 10, storeErr, 5, storage.ErrStoreUnavailable, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, calls := failing(tt.failures, tt.err)
			err := RetryWithBackoff(context.Background(), op, tt.maxAttempts, time.Millisecond)
			if tt.wantErr == nil {
				require.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Equal(t, tt.wantCalls, *calls)
		})
	}
}

func TestRetryWithBackoff_InvalidMaxAttempts(t *testing.T) {
	for _, n := range []int{0, -1} {
		op, calls := failing(0, nil)
		err := RetryWithBackoff(context.Background(), op, n, time.Millisecond)
		assert.ErrorIs(t, err, ErrInvalidMaxAttempts)
		assert.Zero(t, *calls)
	}
}

func TestRetryWithBackoff_DelayDoubles(t *testing.T) {
	var stamps []time.Time
	op := func(context.Context) error {
		stamps = append(stamps, time.Now())
		return errors.New("still failing")
	}

	base := 20 * time.Millisecond
	require.Error(t, RetryWithBackoff(context.Background(), op, 3, base))
	require.Len(t, stamps, 3)
	assert.GreaterOrEqual(t, stamps[1].Sub(stamps[0]), base)
	assert.GreaterOrEqual(t, stamps[2].Sub(stamps[1]), 2*base)
}

func TestRetryWithBackoff_CanceledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	op, calls := failing(0, nil)
	err := RetryWithBackoff(ctx, op, 3, time.Millisecond)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, *calls)
}

func TestRetryWithBackoff_CanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	op := func(context.Context) error {
		calls++
		cancel()
		return errors.New("fails once")
	}

	start := time.Now()
	err := RetryWithBackoff(ctx, op, 5, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), 500*time.Millisecond, "backoff wait must end on cancel")
}
