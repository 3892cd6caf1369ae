package transcript

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nugget/terrarium-irc/internal/llm"
)

// importLegacyHistory moves rows from the earlier Python release's
// conversation_history table into conversation_turns as kind "legacy",
// then renames the old table so the import runs once.
func (s *Store) importLegacyHistory() error {
	var name string
	err := s.db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'conversation_history'`).Scan(&name)
	if err != nil {
		// sql.ErrNoRows: nothing to import.
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin legacy import: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		INSERT INTO conversation_turns (id, channel, seq, kind, role, content, created_at)
		SELECT 'legacy-' || id, channel, id, 'legacy', role, content,
			COALESCE(timestamp, '1970-01-01 00:00:00')
		FROM conversation_history
		ORDER BY id
	`)
	if err != nil {
		return fmt.Errorf("import legacy history: %w", err)
	}
	if _, err := tx.Exec(`ALTER TABLE conversation_history RENAME TO conversation_history_imported`); err != nil {
		return fmt.Errorf("retire legacy history: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	n, _ := res.RowsAffected()
	s.logger.Info("imported legacy conversation history", "turns", n)
	return nil
}

// legacyTurn is the OpenAI-style message dict older writers serialized
// into the content column of tool-bearing turns.
type legacyTurn struct {
	Role      string `json:"role"`
	Content   any    `json:"content"`
	ToolCalls []struct {
		ID       string `json:"id"`
		Function struct {
			Name      string `json:"name"`
			Arguments any    `json:"arguments"`
		} `json:"function"`
	} `json:"tool_calls"`
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
}

// sniffLegacyTurn rebuilds a turn stored before the kind column
// existed. Content is treated as a structured payload only when it
// decodes to an object whose own role matches the row's role and which
// carries the fields that role needs; everything else stays plain text,
// including tool output that merely happens to be JSON.
func sniffLegacyTurn(role, content string) llm.Message {
	plain := llm.Message{Role: role, Content: content}

	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "{") {
		return plain
	}
	var lt legacyTurn
	if err := json.Unmarshal([]byte(trimmed), &lt); err != nil || lt.Role != role {
		return plain
	}

	switch role {
	case llm.RoleAssistant:
		if len(lt.ToolCalls) == 0 {
			return plain
		}
		m := llm.Message{Role: role, Content: contentString(lt.Content)}
		for _, tc := range lt.ToolCalls {
			m.ToolCalls = append(m.ToolCalls, llm.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: legacyArguments(tc.Function.Arguments),
			})
		}
		return m
	case llm.RoleTool:
		if lt.ToolCallID == "" {
			return plain
		}
		return llm.Message{
			Role:       role,
			Content:    contentString(lt.Content),
			ToolCallID: lt.ToolCallID,
			ToolName:   lt.Name,
		}
	}
	return plain
}

func contentString(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	default:
		b, _ := json.Marshal(c)
		return string(b)
	}
}

// legacyArguments accepts both the OpenAI string encoding and a bare
// object.
func legacyArguments(v any) map[string]any {
	switch a := v.(type) {
	case string:
		return llm.ParseToolArguments(a)
	case map[string]any:
		return a
	default:
		return make(map[string]any)
	}
}
