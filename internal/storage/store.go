package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Outcome values recorded for each generation call.
const (
	OutcomeSuccess = "success"
)

// UsageRecord is one metadata generation call. It never holds the generated metadata.
type UsageRecord struct {
	ID           string
	Caller       string
	Model        string
	Outcome      string
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
	CostUSD      float64
	Duration     time.Duration
	ImageBytes   int
	MIMEType     string
	CreatedAt    time.Time
}

// ModelUsage aggregates calls for a single model.
type ModelUsage struct {
	Model   string
	Calls   int64
	CostUSD float64
}

// UsageSummary aggregates usage over a time window.
type UsageSummary struct {
	Since        time.Time
	Calls        int64
	Successes    int64
	Failures     int64
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
	ByModel      []ModelUsage
}

// UsageStore persists the usage ledger.
type UsageStore interface {
	RecordUsage(ctx context.Context, rec UsageRecord) error
	Summary(ctx context.Context, since time.Time) (*UsageSummary, error)
	Recent(ctx context.Context, limit int) ([]UsageRecord, error)
	Close() error
}

// SQLiteStore implements UsageStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore opens (or creates) the usage database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// WAL and busy timeout let the server and usage-report read concurrently
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}

	if err := os.Chmod(dbPath, 0600); err != nil && !os.IsNotExist(err) {
		log.Debug().Err(err).Str("path", dbPath).Msg("could not restrict usage database permissions")
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	query := `
	CREATE TABLE IF NOT EXISTS generation_usage (
		id TEXT PRIMARY KEY,
		caller TEXT NOT NULL,
		model TEXT NOT NULL,
		outcome TEXT NOT NULL,
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		total_tokens INTEGER NOT NULL DEFAULT 0,
		cost_usd REAL NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		image_bytes INTEGER NOT NULL DEFAULT 0,
		mime_type TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create generation_usage table: %w", err)
	}

	indexQuery := `CREATE INDEX IF NOT EXISTS idx_generation_usage_created_at ON generation_usage(created_at);`
	if _, err := s.db.Exec(indexQuery); err != nil {
		return fmt.Errorf("failed to create generation_usage index: %w", err)
	}

	return nil
}

// RecordUsage inserts one ledger row.
func (s *SQLiteStore) RecordUsage(ctx context.Context, rec UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO generation_usage
			(id, caller, model, outcome, input_tokens, output_tokens, total_tokens,
			 cost_usd, duration_ms, image_bytes, mime_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Caller, rec.Model, rec.Outcome, rec.InputTokens, rec.OutputTokens, rec.TotalTokens,
		rec.CostUSD, rec.Duration.Milliseconds(), rec.ImageBytes, rec.MIMEType, rec.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

// Summary aggregates all calls created at or after since.
func (s *SQLiteStore) Summary(ctx context.Context, since time.Time) (*UsageSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := &UsageSummary{Since: since}
	sinceMs := since.UnixMilli()

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(cost_usd), 0)
		FROM generation_usage
		WHERE created_at >= ?
	`, OutcomeSuccess, sinceMs).Scan(
		&summary.Calls,
		&summary.Successes,
		&summary.InputTokens,
		&summary.OutputTokens,
		&summary.CostUSD,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize usage: %w", err)
	}
	summary.Failures = summary.Calls - summary.Successes

	rows, err := s.db.QueryContext(ctx, `
		SELECT model, COUNT(*), COALESCE(SUM(cost_usd), 0)
		FROM generation_usage
		WHERE created_at >= ?
		GROUP BY model
		ORDER BY COUNT(*) DESC, model
	`, sinceMs)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize usage by model: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m ModelUsage
		if err := rows.Scan(&m.Model, &m.Calls, &m.CostUSD); err != nil {
			return nil, fmt.Errorf("failed to scan model usage: %w", err)
		}
		summary.ByModel = append(summary.ByModel, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate model usage: %w", err)
	}

	return summary, nil
}

// Recent returns the newest ledger rows, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]UsageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, caller, model, outcome, input_tokens, output_tokens, total_tokens,
			cost_usd, duration_ms, image_bytes, mime_type, created_at
		FROM generation_usage
		ORDER BY created_at DESC, id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent usage: %w", err)
	}
	defer rows.Close()

	var records []UsageRecord
	for rows.Next() {
		var rec UsageRecord
		var durationMs, createdMs int64
		if err := rows.Scan(
			&rec.ID, &rec.Caller, &rec.Model, &rec.Outcome,
			&rec.InputTokens, &rec.OutputTokens, &rec.TotalTokens,
			&rec.CostUSD, &durationMs, &rec.ImageBytes, &rec.MIMEType, &createdMs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan usage row: %w", err)
		}
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		rec.CreatedAt = time.UnixMilli(createdMs)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate usage rows: %w", err)
	}

	return records, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
