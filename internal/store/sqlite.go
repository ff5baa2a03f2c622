package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"macrostrat/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

var _ ResultStore = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS backtest_results (
	id            TEXT PRIMARY KEY,
	asset_id      TEXT NOT NULL,
	strategy_type TEXT NOT NULL,
	start_date    TEXT NOT NULL,
	end_date      TEXT NOT NULL,
	total_return  REAL NOT NULL,
	created_at    TEXT NOT NULL,
	payload       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_backtest_results_created ON backtest_results(created_at);

CREATE TABLE IF NOT EXISTS multi_results (
	id         TEXT PRIMARY KEY,
	asset_id   TEXT NOT NULL,
	created_at TEXT NOT NULL,
	payload    TEXT NOT NULL
);`

// SQLiteStore implements ResultStore backed by a SQLite database. Results are
// stored as JSON payloads next to a few indexed columns.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and creates
// the result tables.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveResult inserts or replaces a single-strategy result.
func (s *SQLiteStore) SaveResult(ctx context.Context, r *domain.BacktestResult) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding result %s: %w", r.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO backtest_results
			(id, asset_id, strategy_type, start_date, end_date, total_return, created_at, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Request.AssetID, string(r.Request.Strategy.Type),
		formatTime(r.Request.StartDate), formatTime(r.Request.EndDate),
		r.PerformanceMetrics.TotalReturn, formatTime(r.CreatedAt), string(payload))
	if err != nil {
		return fmt.Errorf("saving result %s: %w", r.ID, err)
	}
	return nil
}

// GetResult loads a single-strategy result by ID.
func (s *SQLiteStore) GetResult(ctx context.Context, id string) (*domain.BacktestResult, error) {
	var r domain.BacktestResult
	if err := s.load(ctx, `SELECT payload FROM backtest_results WHERE id = ?`, id, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ListResults returns summaries of the most recent runs first.
func (s *SQLiteStore) ListResults(ctx context.Context, limit int) ([]domain.BacktestSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, asset_id, strategy_type, start_date, end_date, total_return, created_at
		 FROM backtest_results ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing results: %w", err)
	}
	defer rows.Close()

	var out []domain.BacktestSummary
	for rows.Next() {
		var (
			sum                     domain.BacktestSummary
			typ, start, end, create string
		)
		if err := rows.Scan(&sum.ID, &sum.AssetID, &typ, &start, &end, &sum.TotalReturn, &create); err != nil {
			return nil, err
		}
		sum.StrategyType = domain.StrategyType(typ)
		sum.StartDate = parseTime(start)
		sum.EndDate = parseTime(end)
		sum.CreatedAt = parseTime(create)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// SaveMultiResult inserts or replaces a comparison result.
func (s *SQLiteStore) SaveMultiResult(ctx context.Context, r *domain.MultiBacktestResult) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding comparison %s: %w", r.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO multi_results (id, asset_id, created_at, payload) VALUES (?, ?, ?, ?)`,
		r.ID, r.Request.AssetID, formatTime(r.CreatedAt), string(payload))
	if err != nil {
		return fmt.Errorf("saving comparison %s: %w", r.ID, err)
	}
	return nil
}

// GetMultiResult loads a comparison result by ID.
func (s *SQLiteStore) GetMultiResult(ctx context.Context, id string) (*domain.MultiBacktestResult, error) {
	var r domain.MultiBacktestResult
	if err := s.load(ctx, `SELECT payload FROM multi_results WHERE id = ?`, id, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *SQLiteStore) load(ctx context.Context, query, id string, into any) error {
	var payload string
	err := s.db.QueryRowContext(ctx, query, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: result %q", domain.ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("loading %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(payload), into); err != nil {
		return fmt.Errorf("decoding %s: %w", id, err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
