// Package usage keeps an append-only ledger of model token usage, one
// record per model call, so operators can see what the bot costs per
// channel and per day.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Purposes a model call can be made for.
const (
	PurposeReply      = "reply"
	PurposeCompaction = "compaction"
	PurposeAsk        = "ask"
)

// Record is one model call's token usage.
type Record struct {
	ID           string
	Timestamp    time.Time
	RequestID    string
	Channel      string
	Model        string
	Provider     string
	InputTokens  int
	OutputTokens int
	Purpose      string
}

// Summary holds aggregated totals.
type Summary struct {
	Calls             int
	TotalInputTokens  int64
	TotalOutputTokens int64
}

// Total returns input plus output tokens.
func (s Summary) Total() int64 { return s.TotalInputTokens + s.TotalOutputTokens }

// Store writes usage records into an existing database handle. It
// shares the transcript database rather than opening its own file.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates the usage table in db if needed.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate usage schema: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS usage_records (
		id            TEXT PRIMARY KEY,
		timestamp     TEXT NOT NULL,
		request_id    TEXT NOT NULL,
		channel       TEXT,
		model         TEXT NOT NULL,
		provider      TEXT NOT NULL,
		input_tokens  INTEGER NOT NULL,
		output_tokens INTEGER NOT NULL,
		purpose       TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_usage_timestamp ON usage_records(timestamp);
	CREATE INDEX IF NOT EXISTS idx_usage_channel ON usage_records(channel);
	`)
	return err
}

// Record persists rec, filling in ID and Timestamp when unset.
func (s *Store) Record(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate usage record ID: %w", err)
		}
		rec.ID = id.String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}
	if rec.Purpose == "" {
		rec.Purpose = PurposeReply
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_records
			(id, timestamp, request_id, channel, model, provider, input_tokens, output_tokens, purpose)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Timestamp.UTC().Format(time.RFC3339),
		rec.RequestID,
		rec.Channel,
		rec.Model,
		rec.Provider,
		rec.InputTokens,
		rec.OutputTokens,
		rec.Purpose,
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// Summary returns totals for records within [start, end).
func (s *Store) Summary(ctx context.Context, start, end time.Time) (Summary, error) {
	var sum Summary
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0)
		 FROM usage_records
		 WHERE timestamp >= ? AND timestamp < ?`,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
	).Scan(&sum.Calls, &sum.TotalInputTokens, &sum.TotalOutputTokens)
	if err != nil {
		return Summary{}, fmt.Errorf("query usage summary: %w", err)
	}
	return sum, nil
}

// Today returns totals since local midnight.
func (s *Store) Today(ctx context.Context) (Summary, error) {
	now := s.now()
	y, m, d := now.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	return s.Summary(ctx, midnight, now.Add(time.Second))
}

// SummaryByChannel returns per-channel totals within [start, end).
func (s *Store) SummaryByChannel(ctx context.Context, start, end time.Time) (map[string]Summary, error) {
	return s.summaryGroupedBy(ctx, "channel", start, end)
}

// SummaryByPurpose returns per-purpose totals within [start, end).
func (s *Store) SummaryByPurpose(ctx context.Context, start, end time.Time) (map[string]Summary, error) {
	return s.summaryGroupedBy(ctx, "purpose", start, end)
}

func (s *Store) summaryGroupedBy(ctx context.Context, column string, start, end time.Time) (map[string]Summary, error) {
	// column only ever comes from the methods above.
	query := fmt.Sprintf(
		`SELECT COALESCE(%s, ''), COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0)
		 FROM usage_records
		 WHERE timestamp >= ? AND timestamp < ?
		 GROUP BY %s`,
		column, column,
	)

	rows, err := s.db.QueryContext(ctx, query,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("query usage by %s: %w", column, err)
	}
	defer rows.Close()

	result := make(map[string]Summary)
	for rows.Next() {
		var (
			key string
			sum Summary
		)
		if err := rows.Scan(&key, &sum.Calls, &sum.TotalInputTokens, &sum.TotalOutputTokens); err != nil {
			return nil, fmt.Errorf("scan usage by %s: %w", column, err)
		}
		result[key] = sum
	}
	return result, rows.Err()
}
