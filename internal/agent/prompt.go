package agent

import (
	"context"
	"time"

	"github.com/nugget/terrarium-irc/internal/llm"
	"github.com/nugget/terrarium-irc/internal/prompts"
	"github.com/nugget/terrarium-irc/internal/transcript"
)

// PromptConfig controls prompt assembly.
type PromptConfig struct {
	// Name is the bot's nick as shown in the persona.
	Name string

	Events     EventSource
	EventLimit int

	// GapThreshold is the silence after which the prompt notes how long
	// it has been since the agent last spoke. Zero disables the notice.
	GapThreshold time.Duration
}

// Assemble builds the message list for one model call:
//
//  1. the persona system turn
//  2. the rolling summary, if any
//  3. recent room activity, if any, led by the gap notice
//  4. the conversation history
//
// Room activity is re-read on every call and never mixed into the
// history, so the model can tell its own memory from the room state.
func (c *Conversation) Assemble(ctx context.Context, pc PromptConfig) []llm.Message {
	c.mu.Lock()
	summary := c.summary
	history := append([]llm.Message(nil), c.history...)
	last := c.lastResponse
	c.mu.Unlock()

	msgs := make([]llm.Message, 0, len(history)+3)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: prompts.Persona(c.channel, pc.Name)})

	if summary != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: prompts.SummaryBlock(summary)})
	}

	var notice string
	if pc.GapThreshold > 0 && !last.IsZero() {
		if gap := c.now().Sub(last); gap >= pc.GapThreshold {
			notice = prompts.GapNotice(gap)
		}
	}

	var events []transcript.Event
	if pc.Events != nil && pc.EventLimit > 0 {
		var err error
		events, err = pc.Events.RecentEvents(ctx, c.channel, pc.EventLimit, 0, transcript.AllTypes...)
		if err != nil {
			c.logger.Warn("recent channel events unavailable", "channel", c.channel, "error", err)
			events = nil
		}
	}
	switch {
	case len(events) > 0:
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: prompts.TranscriptExcerpt(c.channel, events, notice)})
	case notice != "":
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: notice})
	}

	return append(msgs, history...)
}
