package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"hadaily/internal/domain"
)

// Compile-time interface check.
var _ CheckpointStore = (*SQLiteCheckpoints)(nil)

const checkpointSchema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	window_start INTEGER PRIMARY KEY,
	window_end   INTEGER NOT NULL,
	boundary     INTEGER NOT NULL,
	status       TEXT    NOT NULL,
	rollup_state BLOB,
	updated_at   INTEGER NOT NULL
);`

// SQLiteCheckpoints implements CheckpointStore backed by a SQLite database.
// Instants are stored as Unix nanoseconds.
type SQLiteCheckpoints struct {
	db *sql.DB
}

// NewSQLiteCheckpoints opens (or creates) the database at dbPath and ensures
// the checkpoints table exists.
func NewSQLiteCheckpoints(dbPath string) (*SQLiteCheckpoints, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &domain.CheckpointError{Op: "open", Err: err}
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, &domain.CheckpointError{Op: "open", Err: err}
	}
	if _, err := db.Exec(checkpointSchema); err != nil {
		db.Close()
		return nil, &domain.CheckpointError{Op: "migrate", Err: err}
	}
	return &SQLiteCheckpoints{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteCheckpoints) Close() error {
	return s.db.Close()
}

// Latest returns the checkpoint with the most recent window start, or nil if
// the table is empty.
func (s *SQLiteCheckpoints) Latest(ctx context.Context) (*domain.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT window_start, window_end, boundary, status, rollup_state, updated_at
		FROM checkpoints
		ORDER BY window_start DESC
		LIMIT 1`)

	var start, end, boundary, updated int64
	var status string
	var state []byte
	if err := row.Scan(&start, &end, &boundary, &status, &state, &updated); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, &domain.CheckpointError{Op: "load", Err: err}
	}

	return &domain.Checkpoint{
		Window:      domain.TimeRange{Start: time.Unix(0, start).UTC(), End: time.Unix(0, end).UTC()},
		Boundary:    time.Unix(0, boundary).UTC(),
		Status:      domain.CheckpointStatus(status),
		RollupState: state,
		UpdatedAt:   time.Unix(0, updated).UTC(),
	}, nil
}

// Save upserts the checkpoint keyed by window start.
func (s *SQLiteCheckpoints) Save(ctx context.Context, cp *domain.Checkpoint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (window_start, window_end, boundary, status, rollup_state, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(window_start) DO UPDATE SET
			window_end   = excluded.window_end,
			boundary     = excluded.boundary,
			status       = excluded.status,
			rollup_state = excluded.rollup_state,
			updated_at   = excluded.updated_at`,
		cp.Window.Start.UnixNano(),
		cp.Window.End.UnixNano(),
		cp.Boundary.UnixNano(),
		string(cp.Status),
		cp.RollupState,
		time.Now().UnixNano(),
	)
	if err != nil {
		return &domain.CheckpointError{Op: "save", Err: err}
	}
	return nil
}
