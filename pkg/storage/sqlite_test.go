package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()

	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer store.Close()

	id, err := store.CreateRun(ctx, RunInfo{
		Name:   "sqlite-run",
		Params: map[string]any{"beam_width": float64(4)},
	})
	require.NoError(t, err)

	require.NoError(t, store.AppendMetric(ctx, id, 2, 0.75, map[string]any{"mutation": "hint: x"}))
	require.NoError(t, store.AppendMetric(ctx, id, 1, 0.5, nil))

	info, err := store.LoadRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "sqlite-run", info.Name)
	assert.Equal(t, float64(4), info.Params["beam_width"])

	history, err := store.LoadHistory(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 1, history[0].Iteration)
	assert.Equal(t, 0.5, history[0].Score)
	assert.Equal(t, "hint: x", history[1].Payload["mutation"])
}

func TestSQLiteStoreUnknownRun(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer store.Close()

	_, err = store.LoadRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)

	_, err = store.LoadHistory(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestSQLiteStoreReopenSeesData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "runs.db")

	first, err := NewSQLiteStore(path)
	require.NoError(t, err)
	id, err := first.CreateRun(ctx, RunInfo{Name: "persisted"})
	require.NoError(t, err)
	require.NoError(t, first.AppendMetric(ctx, id, 0, 0.9, nil))
	require.NoError(t, first.Close())

	second, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer second.Close()

	history, err := second.LoadHistory(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 0.9, history[0].Score)
}
