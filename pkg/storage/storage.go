// Package storage persists optimization runs and their per-iteration
// metrics. Stores are collaborators of the optimizer: every write failure is
// advisory, so implementations report errors and callers decide whether to
// continue.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrRunNotFound is returned when a run id has no record.
var ErrRunNotFound = errors.New("run not found")

// RunInfo describes one optimization run.
type RunInfo struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	StartedAt time.Time      `json:"started_at"`
	Params    map[string]any `json:"params,omitempty"`
}

// MetricRecord is one per-iteration measurement of a run.
type MetricRecord struct {
	RunID      string         `json:"run_id"`
	Iteration  int            `json:"iteration"`
	Score      float64        `json:"score"`
	Payload    map[string]any `json:"payload,omitempty"`
	RecordedAt time.Time      `json:"recorded_at"`
}

// Store persists runs and metrics.
type Store interface {
	// CreateRun registers a run and returns its id. A supplied non-empty
	// RunInfo.ID is kept; an empty one is assigned by the store.
	CreateRun(ctx context.Context, info RunInfo) (string, error)

	// AppendMetric records a score for one iteration of a run.
	AppendMetric(ctx context.Context, runID string, iteration int, score float64, payload map[string]any) error

	// LoadRun fetches a run's info, or ErrRunNotFound.
	LoadRun(ctx context.Context, runID string) (*RunInfo, error)

	// LoadHistory returns the run's metric records ordered by iteration.
	LoadHistory(ctx context.Context, runID string) ([]MetricRecord, error)
}
