package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps runs and metrics in process memory. It is the default
// store and the one tests use. Safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	runs    map[string]RunInfo
	metrics map[string][]MetricRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:    make(map[string]RunInfo),
		metrics: make(map[string][]MetricRecord),
	}
}

// CreateRun implements Store.
func (s *MemoryStore) CreateRun(_ context.Context, info RunInfo) (string, error) {
	if info.ID == "" {
		info.ID = uuid.New().String()
	}
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[info.ID]; exists {
		return "", fmt.Errorf("run %q already exists", info.ID)
	}
	s.runs[info.ID] = info
	return info.ID, nil
}

// AppendMetric implements Store.
func (s *MemoryStore) AppendMetric(_ context.Context, runID string, iteration int, score float64, payload map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[runID]; !exists {
		return fmt.Errorf("append metric: %w: %s", ErrRunNotFound, runID)
	}
	s.metrics[runID] = append(s.metrics[runID], MetricRecord{
		RunID:      runID,
		Iteration:  iteration,
		Score:      score,
		Payload:    payload,
		RecordedAt: time.Now().UTC(),
	})
	return nil
}

// LoadRun implements Store.
func (s *MemoryStore) LoadRun(_ context.Context, runID string) (*RunInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, exists := s.runs[runID]
	if !exists {
		return nil, fmt.Errorf("load run: %w: %s", ErrRunNotFound, runID)
	}
	return &info, nil
}

// LoadHistory implements Store.
func (s *MemoryStore) LoadHistory(_ context.Context, runID string) ([]MetricRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, exists := s.runs[runID]; !exists {
		return nil, fmt.Errorf("load history: %w: %s", ErrRunNotFound, runID)
	}

	records := make([]MetricRecord, len(s.metrics[runID]))
	copy(records, s.metrics[runID])
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Iteration < records[j].Iteration
	})
	return records, nil
}
