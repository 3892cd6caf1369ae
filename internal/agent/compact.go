package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/nugget/terrarium-irc/internal/llm"
	"github.com/nugget/terrarium-irc/internal/prompts"
	"github.com/nugget/terrarium-irc/internal/reply"
)

// CompactionConfig controls when and how history is summarized.
type CompactionConfig struct {
	// Trigger is the history length above which compaction runs.
	Trigger int
	// Retain is how many of the newest turns survive compaction.
	Retain int
	// InputLimit caps the characters of older history handed to the
	// summarizer. The newest characters are kept.
	InputLimit int

	Model       string
	Temperature float64
	MaxTokens   int
}

// DefaultCompaction returns the stock thresholds.
func DefaultCompaction() CompactionConfig {
	return CompactionConfig{
		Trigger:     40,
		Retain:      12,
		InputLimit:  12000,
		Temperature: 0.3,
		MaxTokens:   400,
	}
}

var errEmptySummary = errors.New("summarizer returned no text")

// MaybeCompact folds older history into the rolling summary when the
// history is longer than cc.Trigger. It reports whether compaction
// happened. Any model failure leaves the conversation untouched.
//
// The returned response, when non-nil, is the summarizer's answer so
// callers can account for its tokens.
func (c *Conversation) MaybeCompact(ctx context.Context, client llm.Client, cc CompactionConfig) (bool, *llm.Response, error) {
	c.mu.Lock()
	if cc.Trigger <= 0 || len(c.history) <= cc.Trigger {
		c.mu.Unlock()
		return false, nil, nil
	}
	history := append([]llm.Message(nil), c.history...)
	previous := c.summary
	c.mu.Unlock()

	split := retainSplit(history, cc.Retain)
	if split == 0 {
		return false, nil, nil
	}
	older, retained := history[:split], history[split:]

	excerpt := renderForSummary(older, cc.InputLimit)
	resp, err := client.Chat(ctx, &llm.Request{
		Model: cc.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: prompts.CompactionInstruction()},
			{Role: llm.RoleUser, Content: prompts.CompactionPrompt(previous, excerpt)},
		},
		Temperature: cc.Temperature,
		MaxTokens:   cc.MaxTokens,
	})
	if err != nil {
		return false, nil, fmt.Errorf("summarize %s: %w", c.channel, err)
	}
	summary := strings.TrimSpace(reply.StripReasoning(resp.Message.Content))
	if summary == "" {
		return false, resp, errEmptySummary
	}

	c.mu.Lock()
	// A turn recorded while the summarizer ran would be lost by the
	// replace below; skip and retry next time.
	if len(c.history) != len(history) {
		c.mu.Unlock()
		return false, resp, nil
	}
	c.mu.Unlock()

	c.replace(summary, retained)

	if err := c.store.SaveSummary(ctx, c.channel, summary); err != nil {
		c.logger.Warn("summary not persisted", "channel", c.channel, "error", err)
	}
	if err := c.store.TruncateConversation(ctx, c.channel, len(retained)); err != nil {
		c.logger.Warn("conversation truncation not persisted", "channel", c.channel, "error", err)
	}
	c.logger.Info("conversation compacted",
		"channel", c.channel,
		"summarized_turns", len(older),
		"retained_turns", len(retained),
		"summary_chars", len(summary),
	)
	return true, resp, nil
}

// retainSplit returns the index where the retained suffix starts. The
// suffix never opens with a tool turn: it is widened back to include
// the assistant turn that requested it.
func retainSplit(history []llm.Message, retain int) int {
	if retain < 0 {
		retain = 0
	}
	split := len(history) - retain
	if split <= 0 {
		return 0
	}
	for split > 0 && split < len(history) && history[split].Role == llm.RoleTool {
		split--
	}
	return split
}

// renderForSummary flattens turns into a plain transcript, keeping the
// last limit characters.
func renderForSummary(turns []llm.Message, limit int) string {
	var sb strings.Builder
	for _, m := range turns {
		switch m.Role {
		case llm.RoleUser:
			sb.WriteString(m.Content)
		case llm.RoleAssistant:
			text := strings.TrimSpace(reply.StripReasoning(m.Content))
			if text != "" {
				sb.WriteString("Terra: ")
				sb.WriteString(text)
			}
			for i, tc := range m.ToolCalls {
				if i > 0 || text != "" {
					sb.WriteByte('\n')
				}
				fmt.Fprintf(&sb, "Terra called %s(%s)", tc.Name, tc.ArgumentsJSON())
			}
		case llm.RoleTool:
			fmt.Fprintf(&sb, "Result of %s: %s", m.ToolName, m.Content)
		default:
			continue
		}
		sb.WriteByte('\n')
	}
	out := strings.TrimRight(sb.String(), "\n")
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
		if i := strings.IndexByte(out, '\n'); i >= 0 && i < len(out)-1 {
			out = out[i+1:]
		}
		for len(out) > 0 && !utf8.RuneStart(out[0]) {
			out = out[1:]
		}
	}
	return out
}
