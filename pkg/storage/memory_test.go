package storage

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	id, err := store.CreateRun(ctx, RunInfo{
		Name:   "test-run",
		Params: map[string]any{"beam_width": 4},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id, "empty run ids are assigned by the store")

	require.NoError(t, store.AppendMetric(ctx, id, 0, 0.5, nil))
	require.NoError(t, store.AppendMetric(ctx, id, 1, 0.7, map[string]any{"mutation": "hint: x"}))

	info, err := store.LoadRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "test-run", info.Name)
	assert.False(t, info.StartedAt.IsZero())

	history, err := store.LoadHistory(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 0.5, history[0].Score)
	assert.Equal(t, "hint: x", history[1].Payload["mutation"])
}

func TestMemoryStoreKeepsSuppliedRunID(t *testing.T) {
	store := NewMemoryStore()

	id, err := store.CreateRun(context.Background(), RunInfo{ID: "explicit-id"})
	require.NoError(t, err)
	assert.Equal(t, "explicit-id", id)

	_, err = store.CreateRun(context.Background(), RunInfo{ID: "explicit-id"})
	assert.Error(t, err, "duplicate run ids are rejected")
}

func TestMemoryStoreUnknownRun(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.LoadRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)

	_, err = store.LoadHistory(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)

	err = store.AppendMetric(ctx, "missing", 0, 0.5, nil)
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestMemoryStoreHistoryOrderedByIteration(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	id, err := store.CreateRun(ctx, RunInfo{Name: "ordering"})
	require.NoError(t, err)

	for _, iteration := range []int{5, 1, 3} {
		require.NoError(t, store.AppendMetric(ctx, id, iteration, float64(iteration), nil))
	}

	history, err := store.LoadHistory(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, []int{1, 3, 5}, []int{history[0].Iteration, history[1].Iteration, history[2].Iteration})
}

func TestMemoryStoreConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	id, err := store.CreateRun(ctx, RunInfo{Name: "concurrent"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.AppendMetric(ctx, id, i, float64(i), nil))
		}()
	}
	wg.Wait()

	history, err := store.LoadHistory(ctx, id)
	require.NoError(t, err)
	assert.Len(t, history, 20)
}
