package memory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"aicoder/pkg/persistence"
)

// timeFormat is fixed width so stored timestamps compare correctly as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore keeps entries in the memories table. Keywords are stored
// space-separated with surrounding spaces so a LIKE on " term " matches whole words.
type SQLiteStore struct {
	db     *sql.DB
	ownsDB bool
	now    func() time.Time
}

// OpenSQLiteStore opens the database at path and returns a store that closes it on Close.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := persistence.Open(path)
	if err != nil {
		return nil, err //nolint:wrapcheck // already wrapped
	}
	return &SQLiteStore{db: db, ownsDB: true, now: time.Now}, nil
}

// NewSQLiteStore wraps an already migrated database owned by the caller.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

func (s *SQLiteStore) Put(ctx context.Context, e Entry) (Entry, error) {
	e, err := prepare(e, s.now())
	if err != nil {
		return e, err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO memories (id, run_id, kind, content, keywords, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		e.ID, e.RunID, e.Kind, e.Content, joinKeywords(e.Keywords), e.CreatedAt.UTC().Format(timeFormat))
	if err != nil {
		return e, fmt.Errorf("failed to insert memory %s: %w", e.ID, err)
	}
	return e, nil
}

func (s *SQLiteStore) Search(ctx context.Context, query string, limit int) ([]Match, error) {
	terms := Keywords(query)
	if len(terms) == 0 {
		return []Match{}, nil
	}

	clauses := make([]string, len(terms))
	args := make([]any, len(terms))
	for i, t := range terms {
		clauses[i] = "keywords LIKE ?"
		args[i] = "% " + t + " %"
	}
	//nolint:gosec // clauses are fixed placeholders
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, run_id, kind, content, keywords, created_at FROM memories WHERE "+strings.Join(clauses, " OR "),
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search memories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var candidates []Entry
	for rows.Next() {
		var (
			e        Entry
			keywords string
			created  string
		)
		if err := rows.Scan(&e.ID, &e.RunID, &e.Kind, &e.Content, &keywords, &created); err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		e.Keywords = strings.Fields(keywords)
		if e.CreatedAt, err = time.Parse(timeFormat, created); err != nil {
			return nil, fmt.Errorf("memory %s has invalid timestamp %q: %w", e.ID, created, err)
		}
		candidates = append(candidates, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read memories: %w", err)
	}
	return rank(terms, candidates, limit), nil
}

func (s *SQLiteStore) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM memories WHERE created_at < ?", cutoff.UTC().Format(timeFormat))
	if err != nil {
		return 0, fmt.Errorf("failed to prune memories: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned memories: %w", err)
	}
	return int(n), nil
}

// Close closes the database when the store opened it.
func (s *SQLiteStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close memory database: %w", err)
	}
	return nil
}

func joinKeywords(kw []string) string {
	return " " + strings.Join(kw, " ") + " "
}
