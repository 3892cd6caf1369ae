package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/terrarium-irc/internal/llm"
	"github.com/nugget/terrarium-irc/internal/transcript"
)

// ConversationStore is the durable side of a channel conversation.
// [transcript.Store] implements it.
type ConversationStore interface {
	AppendTurn(ctx context.Context, channel string, m llm.Message) error
	LoadConversation(ctx context.Context, channel string) ([]llm.Message, error)
	LastTurnTime(ctx context.Context, channel string) (time.Time, error)
	TruncateConversation(ctx context.Context, channel string, keep int) error
	ClearConversation(ctx context.Context, channel string) error
	LoadSummary(ctx context.Context, channel string) (string, error)
	SaveSummary(ctx context.Context, channel, summary string) error
}

// EventSource supplies recent room activity for the prompt.
type EventSource interface {
	RecentEvents(ctx context.Context, channel string, limit, hours int, types ...transcript.EventType) ([]transcript.Event, error)
}

// Conversation is one channel's agent memory: the turns the agent has
// exchanged plus a rolling summary of older ones.
//
// The in-memory copy is authoritative. Every append is mirrored to the
// store, but a failed durable write is logged and does not undo the
// in-memory change; the next restart simply reloads a shorter history.
type Conversation struct {
	channel string
	store   ConversationStore
	logger  *slog.Logger
	now     func() time.Time

	// turn serializes requests for this channel. Held by the
	// orchestrator for the whole of one request.
	turn sync.Mutex

	mu           sync.Mutex
	history      []llm.Message
	summary      string
	lastResponse time.Time
}

// Channel returns the channel this conversation belongs to.
func (c *Conversation) Channel() string { return c.channel }

// History returns a copy of the conversation turns.
func (c *Conversation) History() []llm.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]llm.Message(nil), c.history...)
}

// Summary returns the rolling summary, or "".
func (c *Conversation) Summary() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.summary
}

// Len returns the number of turns held in memory.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.history)
}

// LastResponse returns when the agent last answered in this channel.
func (c *Conversation) LastResponse() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastResponse
}

// RecordUser appends a user turn.
func (c *Conversation) RecordUser(ctx context.Context, content string) {
	c.record(ctx, llm.Message{Role: llm.RoleUser, Content: content})
}

// RecordAssistant appends a plain assistant turn. content is the raw
// model text, reasoning markup included.
func (c *Conversation) RecordAssistant(ctx context.Context, content string) {
	c.record(ctx, llm.Message{Role: llm.RoleAssistant, Content: content})
	c.mu.Lock()
	c.lastResponse = c.now()
	c.mu.Unlock()
}

// RecordToolCall appends an assistant turn that requests tools. The
// full tool call structure is persisted.
func (c *Conversation) RecordToolCall(ctx context.Context, m llm.Message) {
	m.Role = llm.RoleAssistant
	c.record(ctx, m)
}

// RecordToolResult appends a tool turn answering one tool call.
func (c *Conversation) RecordToolResult(ctx context.Context, m llm.Message) {
	m.Role = llm.RoleTool
	c.record(ctx, m)
}

func (c *Conversation) record(ctx context.Context, m llm.Message) {
	c.mu.Lock()
	c.history = append(c.history, m)
	c.mu.Unlock()

	if err := c.store.AppendTurn(ctx, c.channel, m); err != nil {
		c.logger.Warn("conversation turn not persisted",
			"channel", c.channel, "role", m.Role, "error", err)
	}
}

// Clear forgets the history and summary in memory and in the store.
func (c *Conversation) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.history = nil
	c.summary = ""
	c.lastResponse = time.Time{}
	c.mu.Unlock()

	if err := c.store.ClearConversation(ctx, c.channel); err != nil {
		return fmt.Errorf("clear %s: %w", c.channel, err)
	}
	return nil
}

// replace swaps in a new summary and a retained suffix after compaction.
func (c *Conversation) replace(summary string, retained []llm.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summary = summary
	c.history = append([]llm.Message(nil), retained...)
}

// Registry holds one Conversation per channel, loaded lazily from the
// store on first use.
type Registry struct {
	store  ConversationStore
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	convs map[string]*Conversation
}

// NewRegistry creates an empty registry backed by store.
func NewRegistry(store ConversationStore, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:  store,
		logger: logger,
		now:    time.Now,
		convs:  make(map[string]*Conversation),
	}
}

// Get returns channel's conversation, loading persisted turns and the
// summary the first time the channel is seen. A load failure is
// returned and nothing is cached, so the next call retries. Loads run
// without the registry lock so one channel's first access never
// delays another's.
func (r *Registry) Get(ctx context.Context, channel string) (*Conversation, error) {
	if c := r.cached(channel); c != nil {
		return c, nil
	}

	history, err := r.store.LoadConversation(ctx, channel)
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", channel, err)
	}
	summary, err := r.store.LoadSummary(ctx, channel)
	if err != nil {
		return nil, fmt.Errorf("load summary %s: %w", channel, err)
	}
	last, err := r.store.LastTurnTime(ctx, channel)
	if err != nil {
		r.logger.Warn("last turn time unavailable", "channel", channel, "error", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// A concurrent first access may have won the race.
	if c, ok := r.convs[channel]; ok {
		return c, nil
	}
	c := &Conversation{
		channel:      channel,
		store:        r.store,
		logger:       r.logger,
		now:          r.now,
		history:      history,
		summary:      summary,
		lastResponse: last,
	}
	r.convs[channel] = c
	r.logger.Debug("conversation loaded", "channel", channel, "turns", len(history), "has_summary", summary != "")
	return c, nil
}

func (r *Registry) cached(channel string) *Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.convs[channel]
}

// Evict drops channel from the cache. The next Get reloads it.
func (r *Registry) Evict(channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.convs, channel)
}

// Channels returns the channels with a cached conversation.
func (r *Registry) Channels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.convs))
	for ch := range r.convs {
		out = append(out, ch)
	}
	return out
}
