package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"aicoder/pkg/persistence"
)

// SQLiteStore appends snapshots to the checkpoints table and keeps the runs
// index pointing at each run's latest snapshot.
type SQLiteStore struct {
	db     *sql.DB
	ownsDB bool
}

// OpenSQLiteStore opens the database at path and returns a store that closes it on Close.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := persistence.Open(path)
	if err != nil {
		return nil, err //nolint:wrapcheck // already wrapped
	}
	return &SQLiteStore{db: db, ownsDB: true}, nil
}

// NewSQLiteStore wraps an already migrated database owned by the caller.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Save inserts snap and advances the run's index row in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, runID string, snap *Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot for run %s: %w", runID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var latest sql.NullInt64
	err = tx.QueryRowContext(ctx, "SELECT latest_seq FROM runs WHERE run_id = ?", runID).Scan(&latest)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to read run %s: %w", runID, err)
	}
	if latest.Valid && int64(snap.Seq) <= latest.Int64 {
		return fmt.Errorf("run %s seq %d after %d: %w", runID, snap.Seq, latest.Int64, ErrStaleSnapshot)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, status, cursor, latest_seq) VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			status = excluded.status,
			cursor = excluded.cursor,
			latest_seq = excluded.latest_seq,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')`,
		runID, string(snap.Status), snap.Cursor, snap.Seq)
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", runID, err)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO checkpoints (run_id, seq, status, cursor, snapshot) VALUES (?, ?, ?, ?, ?)",
		runID, snap.Seq, string(snap.Status), snap.Cursor, string(payload))
	if err != nil {
		return fmt.Errorf("failed to insert checkpoint for run %s: %w", runID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit checkpoint for run %s: %w", runID, err)
	}
	return nil
}

// Load returns the run's latest snapshot.
func (s *SQLiteStore) Load(ctx context.Context, runID string) (*Snapshot, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `
		SELECT snapshot FROM checkpoints
		WHERE run_id = ?
		ORDER BY seq DESC LIMIT 1`, runID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint for run %s: %w", runID, err)
	}
	return decodeSnapshot(runID, payload)
}

// List returns every indexed run ID.
func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT run_id FROM runs ORDER BY run_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan run id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return ids, nil
}

// History returns every snapshot of the run in sequence order.
func (s *SQLiteStore) History(ctx context.Context, runID string) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT snapshot FROM checkpoints WHERE run_id = ? ORDER BY seq", runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		snap, err := decodeSnapshot(runID, payload)
		if err != nil {
			return nil, err
		}
		out = append(out, *snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate checkpoints: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return out, nil
}

// Close closes the database when the store opened it.
func (s *SQLiteStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close checkpoint database: %w", err)
	}
	return nil
}

func decodeSnapshot(runID, payload string) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint for run %s: %w", runID, err)
	}
	return &snap, nil
}
