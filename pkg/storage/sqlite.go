package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	started_at TIMESTAMP NOT NULL,
	params     TEXT
);

CREATE TABLE IF NOT EXISTS metrics (
	run_id      TEXT NOT NULL REFERENCES runs(id),
	iteration   INTEGER NOT NULL,
	score       REAL NOT NULL,
	payload     TEXT,
	recorded_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_metrics_run ON metrics(run_id, iteration);
`

// SQLiteStore persists runs in a SQLite database file.
type SQLiteStore struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

// NewSQLiteStore opens (creating if needed) the database at path and
// ensures the schema exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteStore{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// CreateRun implements Store.
func (s *SQLiteStore) CreateRun(ctx context.Context, info RunInfo) (string, error) {
	if info.ID == "" {
		info.ID = uuid.New().String()
	}
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now().UTC()
	}

	params, err := json.Marshal(info.Params)
	if err != nil {
		return "", fmt.Errorf("marshal run params: %w", err)
	}

	query, args, err := s.sb.
		Insert("runs").
		Columns("id", "name", "started_at", "params").
		Values(info.ID, info.Name, info.StartedAt, string(params)).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("build create run query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}
	return info.ID, nil
}

// AppendMetric implements Store.
func (s *SQLiteStore) AppendMetric(ctx context.Context, runID string, iteration int, score float64, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal metric payload: %w", err)
	}

	query, args, err := s.sb.
		Insert("metrics").
		Columns("run_id", "iteration", "score", "payload", "recorded_at").
		Values(runID, iteration, score, string(body), time.Now().UTC()).
		ToSql()
	if err != nil {
		return fmt.Errorf("build append metric query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("append metric: %w", err)
	}
	return nil
}

// LoadRun implements Store.
func (s *SQLiteStore) LoadRun(ctx context.Context, runID string) (*RunInfo, error) {
	query, args, err := s.sb.
		Select("id", "name", "started_at", "params").
		From("runs").
		Where(sq.Eq{"id": runID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build load run query: %w", err)
	}

	var info RunInfo
	var params string
	row := s.db.QueryRowContext(ctx, query, args...)
	if err := row.Scan(&info.ID, &info.Name, &info.StartedAt, &params); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("load run: %w: %s", ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("load run: %w", err)
	}
	if params != "" && params != "null" {
		if err := json.Unmarshal([]byte(params), &info.Params); err != nil {
			return nil, fmt.Errorf("unmarshal run params: %w", err)
		}
	}
	return &info, nil
}

// LoadHistory implements Store.
func (s *SQLiteStore) LoadHistory(ctx context.Context, runID string) ([]MetricRecord, error) {
	if _, err := s.LoadRun(ctx, runID); err != nil {
		return nil, err
	}

	query, args, err := s.sb.
		Select("run_id", "iteration", "score", "payload", "recorded_at").
		From("metrics").
		Where(sq.Eq{"run_id": runID}).
		OrderBy("iteration ASC", "recorded_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build load history query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var records []MetricRecord
	for rows.Next() {
		var rec MetricRecord
		var payload string
		if err := rows.Scan(&rec.RunID, &rec.Iteration, &rec.Score, &payload, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan metric record: %w", err)
		}
		if payload != "" && payload != "null" {
			if err := json.Unmarshal([]byte(payload), &rec.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal metric payload: %w", err)
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return records, nil
}
