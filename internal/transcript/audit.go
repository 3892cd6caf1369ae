package transcript

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ToolCallRecord is one executed tool invocation kept for auditing.
type ToolCallRecord struct {
	Channel    string
	ToolCallID string
	ToolName   string
	Arguments  string
	Result     string
	Error      string
	StartedAt  time.Time
	Duration   time.Duration
}

// RecordToolCall stores an executed tool invocation.
func (s *Store) RecordToolCall(ctx context.Context, r ToolCallRecord) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate tool call id: %w", err)
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = s.now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tool_calls
			(id, channel, tool_call_id, tool_name, arguments, result, error, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id.String(), r.Channel, r.ToolCallID, r.ToolName, r.Arguments, r.Result, r.Error,
		formatTime(r.StartedAt), r.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("record tool call: %w", err)
	}
	return nil
}

// ToolCallCounts returns how many times each tool ran in channel.
func (s *Store) ToolCallCounts(ctx context.Context, channel string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tool_name, COUNT(*) FROM tool_calls WHERE channel = ? GROUP BY tool_name
	`, channel)
	if err != nil {
		return nil, fmt.Errorf("tool call counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			name string
			n    int
		)
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		counts[name] = n
	}
	return counts, rows.Err()
}
