package parallel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessellate-ai/refine/pkg/llmerrors"
)

func TestMapPreservesInputOrder(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7, 8, 9}

	results, err := Map(context.Background(), items, 3, func(_ context.Context, n int) (int, error) {
		// Reverse the natural completion order within a chunk so ordering
		// cannot come from timing.
		time.Sleep(time.Duration(10-n%3) * time.Millisecond)
		return n * n, nil
	})

	require.NoError(t, err)
	assert.Equal(t, []int{1, 4, 9, 16, 25, 36, 49, 64, 81}, results)
}

func TestMapBoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int64

	_, err := Map(context.Background(), make([]int, 20), 4, func(_ context.Context, _ int) (int, error) {
		cur := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return 0, nil
	})

	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int64(4))
}

func TestMapFailsWholeBatchOnFirstError(t *testing.T) {
	boom := errors.New("boom")

	results, err := Map(context.Background(), []int{1, 2, 3, 4, 5, 6}, 2, func(_ context.Context, n int) (int, error) {
		if n == 3 {
			return 0, boom
		}
		return n, nil
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, results, "partial results must be discarded")
}

func TestMapEmptyInput(t *testing.T) {
	results, err := Map(context.Background(), nil, 4, func(_ context.Context, n int) (int, error) {
		return n, nil
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMapSemaphorePreservesOrder(t *testing.T) {
	items := []string{"a", "b", "c", "d", "e"}

	results, err := MapSemaphore(context.Background(), items, 2, func(_ context.Context, s string) (string, error) {
		return s + s, nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"aa", "bb", "cc", "dd", "ee"}, results)
}

func TestMapSemaphoreSucceedsUnderConcurrency(t *testing.T) {
	// The internal group context is cancelled once all workers join; a
	// successful batch must still return nil, not context.Canceled.
	items := make([]int, 50)
	for i := range items {
		items[i] = i
	}

	results, err := MapSemaphore(context.Background(), items, 8, func(_ context.Context, n int) (int, error) {
		time.Sleep(time.Millisecond)
		return n + 1, nil
	})

	require.NoError(t, err)
	require.Len(t, results, 50)
	for i, r := range results {
		assert.Equal(t, i+1, r)
	}
}

func TestMapSemaphoreHonorsCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := MapSemaphore(ctx, []int{1, 2, 3}, 2, func(_ context.Context, n int) (int, error) {
		return n, nil
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMapSemaphoreFailsWholeBatch(t *testing.T) {
	boom := errors.New("boom")

	results, err := MapSemaphore(context.Background(), []int{1, 2, 3}, 3, func(_ context.Context, n int) (int, error) {
		if n == 2 {
			return 0, boom
		}
		return n, nil
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, results)
}

func TestWithTimeoutCompletesInTime(t *testing.T) {
	result, err := WithTimeout(context.Background(), time.Second, func(_ context.Context) (string, error) {
		return "done", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "done", result)
}

func TestWithTimeoutExpires(t *testing.T) {
	_, err := WithTimeout(context.Background(), 10*time.Millisecond, func(ctx context.Context) (string, error) {
		select {
		case <-time.After(time.Second):
			return "late", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})

	require.Error(t, err)
	var te *llmerrors.TimeoutError
	assert.ErrorAs(t, err, &te)
}

func TestWithDeadlineInPastFailsImmediately(t *testing.T) {
	var invoked atomic.Bool

	start := time.Now()
	_, err := WithDeadline(context.Background(), time.Now().Add(-time.Second), func(_ context.Context) (int, error) {
		invoked.Store(true)
		return 0, nil
	})

	require.Error(t, err)
	var te *llmerrors.TimeoutError
	assert.ErrorAs(t, err, &te)
	assert.False(t, invoked.Load(), "past deadlines must not invoke fn")
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestRetryEventuallySucceeds(t *testing.T) {
	var calls atomic.Int64

	result, err := Retry(context.Background(), RetryOptions{
		MaxRetries:   5,
		InitialDelay: time.Millisecond,
		Retryable:    func(error) bool { return true },
	}, func(_ context.Context) (string, error) {
		if calls.Add(1) < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, int64(3), calls.Load())
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	var calls atomic.Int64
	permanent := errors.New("bad request")

	_, err := Retry(context.Background(), RetryOptions{
		MaxRetries:   5,
		InitialDelay: time.Millisecond,
		Retryable:    func(error) bool { return false },
	}, func(_ context.Context) (int, error) {
		calls.Add(1)
		return 0, permanent
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, int64(1), calls.Load())
}

func TestRetryExhaustsBudget(t *testing.T) {
	var calls atomic.Int64
	transient := errors.New("transient")

	_, err := Retry(context.Background(), RetryOptions{
		MaxRetries:   2,
		InitialDelay: time.Millisecond,
		Retryable:    func(error) bool { return true },
	}, func(_ context.Context) (int, error) {
		calls.Add(1)
		return 0, transient
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, transient)
	assert.Equal(t, int64(3), calls.Load(), "initial attempt plus two retries")
}

func TestWithResourceReleasesOnSuccess(t *testing.T) {
	var releases atomic.Int64

	result, err := WithResource(context.Background(),
		func(_ context.Context) (string, error) { return "conn", nil },
		func(string) error { releases.Add(1); return nil },
		func(_ context.Context, r string) (string, error) { return r + ":used", nil },
	)

	require.NoError(t, err)
	assert.Equal(t, "conn:used", result)
	assert.Equal(t, int64(1), releases.Load())
}

func TestWithResourceReleasesOnFailure(t *testing.T) {
	var releases atomic.Int64
	boom := errors.New("boom")

	_, err := WithResource(context.Background(),
		func(_ context.Context) (string, error) { return "conn", nil },
		func(string) error { releases.Add(1); return nil },
		func(_ context.Context, _ string) (int, error) { return 0, boom },
	)

	require.ErrorIs(t, err, boom)
	assert.Equal(t, int64(1), releases.Load())
}

func TestWithResourceCleanupErrorDoesNotMaskResult(t *testing.T) {
	result, err := WithResource(context.Background(),
		func(_ context.Context) (string, error) { return "conn", nil },
		func(string) error { return errors.New("release failed") },
		func(_ context.Context, _ string) (int, error) { return 42, nil },
	)

	require.NoError(t, err)
	assert.Equal(t, 42, result)
}

func TestWithResourceAcquireFailureSkipsEverything(t *testing.T) {
	boom := errors.New("acquire failed")
	var released, invoked atomic.Bool

	_, err := WithResource(context.Background(),
		func(_ context.Context) (string, error) { return "", boom },
		func(string) error { released.Store(true); return nil },
		func(_ context.Context, _ string) (int, error) { invoked.Store(true); return 0, nil },
	)

	require.ErrorIs(t, err, boom)
	assert.False(t, released.Load())
	assert.False(t, invoked.Load())
}
