package transcript

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/terrarium-irc/internal/llm"
)

// TurnKind discriminates the shape of a stored conversation turn so
// loading never has to guess from content.
type TurnKind string

// Stored turn kinds.
const (
	KindText       TurnKind = "text"
	KindToolCall   TurnKind = "tool_call"
	KindToolResult TurnKind = "tool_result"
	// KindLegacy rows came from the pre-discriminant table and are
	// decoded by sniffLegacyTurn.
	KindLegacy TurnKind = "legacy"
)

// KindOf reports the discriminant a message is stored under.
func KindOf(m llm.Message) TurnKind {
	switch {
	case m.Role == llm.RoleAssistant && m.HasToolCalls():
		return KindToolCall
	case m.Role == llm.RoleTool:
		return KindToolResult
	default:
		return KindText
	}
}

// AppendTurn appends one conversation turn for channel.
func (s *Store) AppendTurn(ctx context.Context, channel string, m llm.Message) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate turn id: %w", err)
	}

	kind := KindOf(m)
	var toolCalls, toolCallID, toolName sql.NullString
	switch kind {
	case KindToolCall:
		b, err := json.Marshal(m.ToolCalls)
		if err != nil {
			return fmt.Errorf("marshal tool calls: %w", err)
		}
		toolCalls = sql.NullString{String: string(b), Valid: true}
	case KindToolResult:
		toolCallID = sql.NullString{String: m.ToolCallID, Valid: true}
		toolName = sql.NullString{String: m.ToolName, Valid: m.ToolName != ""}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversation_turns
			(id, channel, seq, kind, role, content, tool_calls, tool_call_id, tool_name, created_at)
		VALUES (?, ?,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM conversation_turns WHERE channel = ?),
			?, ?, ?, ?, ?, ?, ?)
	`, id.String(), channel, channel, string(kind), m.Role, m.Content,
		toolCalls, toolCallID, toolName, formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// LoadConversation returns channel's turns in insertion order,
// rehydrated to the structured shape they were stored with.
func (s *Store) LoadConversation(ctx context.Context, channel string) ([]llm.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, role, content, tool_calls, tool_call_id, tool_name
		FROM conversation_turns
		WHERE channel = ?
		ORDER BY seq ASC
	`, channel)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	defer rows.Close()

	var turns []llm.Message
	for rows.Next() {
		var (
			kind, role, content             string
			toolCalls, toolCallID, toolName sql.NullString
		)
		if err := rows.Scan(&kind, &role, &content, &toolCalls, &toolCallID, &toolName); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}

		m := llm.Message{Role: role, Content: content}
		switch TurnKind(kind) {
		case KindToolCall:
			if err := json.Unmarshal([]byte(toolCalls.String), &m.ToolCalls); err != nil {
				s.logger.Warn("stored tool call turn is corrupt, keeping text only",
					"channel", channel, "error", err)
				m.ToolCalls = nil
			}
		case KindToolResult:
			m.ToolCallID = toolCallID.String
			m.ToolName = toolName.String
		case KindLegacy:
			m = sniffLegacyTurn(role, content)
		}
		turns = append(turns, m)
	}
	return turns, rows.Err()
}

// LastTurnTime returns when channel's most recent turn was written, or
// the zero time when there is none.
func (s *Store) LastTurnTime(ctx context.Context, channel string) (time.Time, error) {
	var t dbTime
	err := s.db.QueryRowContext(ctx, `
		SELECT created_at FROM conversation_turns WHERE channel = ? ORDER BY seq DESC LIMIT 1
	`, channel).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("last turn time: %w", err)
	}
	return t.Time, nil
}

// TruncateConversation keeps only the newest keep turns for channel.
func (s *Store) TruncateConversation(ctx context.Context, channel string, keep int) error {
	if keep < 0 {
		keep = 0
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM conversation_turns
		WHERE channel = ? AND seq NOT IN (
			SELECT seq FROM conversation_turns WHERE channel = ? ORDER BY seq DESC LIMIT ?
		)
	`, channel, channel, keep)
	if err != nil {
		return fmt.Errorf("truncate conversation: %w", err)
	}
	return nil
}

// ClearConversation deletes channel's turns, summary and tool-call
// audit records.
func (s *Store) ClearConversation(ctx context.Context, channel string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM conversation_turns WHERE channel = ?`,
		`DELETE FROM conversation_summaries WHERE channel = ?`,
		`DELETE FROM tool_calls WHERE channel = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, channel); err != nil {
			return fmt.Errorf("clear conversation: %w", err)
		}
	}
	return tx.Commit()
}

// LoadSummary returns channel's rolling summary, or "" if none.
func (s *Store) LoadSummary(ctx context.Context, channel string) (string, error) {
	var summary string
	err := s.db.QueryRowContext(ctx, `SELECT summary FROM conversation_summaries WHERE channel = ?`, channel).Scan(&summary)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load summary: %w", err)
	}
	return summary, nil
}

// SaveSummary replaces channel's rolling summary.
func (s *Store) SaveSummary(ctx context.Context, channel, summary string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_summaries (channel, summary, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(channel) DO UPDATE SET summary = excluded.summary, updated_at = excluded.updated_at
	`, channel, summary, formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("save summary: %w", err)
	}
	return nil
}
