// Package agent is the conversational core of Terrarium. It keeps one
// conversation per channel, assembles bounded prompts, folds old turns
// into a rolling summary and drives the model through a bounded
// tool-calling loop to a single final answer.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/terrarium-irc/internal/config"
	"github.com/nugget/terrarium-irc/internal/events"
	"github.com/nugget/terrarium-irc/internal/llm"
	"github.com/nugget/terrarium-irc/internal/prompts"
	"github.com/nugget/terrarium-irc/internal/reply"
	"github.com/nugget/terrarium-irc/internal/usage"
)

// ToolExecutor runs the tools the model may call. [tools.Registry]
// implements it.
type ToolExecutor interface {
	Names() []string
	Definitions() []llm.ToolDef
	Execute(ctx context.Context, name string, args map[string]any, channel string) string
}

// UsageRecorder stores per-call token usage. [usage.Store] implements it.
type UsageRecorder interface {
	Record(ctx context.Context, rec usage.Record) error
}

// Config tunes an Orchestrator.
type Config struct {
	Model       string
	Provider    string
	Temperature float64

	// MaxIterations is the ceiling on model calls per request.
	MaxIterations int
	// WarningOffset is how many iterations before the ceiling the
	// budget warning is injected.
	WarningOffset int

	Budget     Budget
	Compaction CompactionConfig

	EventLimit   int
	GapThreshold time.Duration

	// ChunkLimit is the maximum size of one outbound chunk.
	ChunkLimit int
}

// DefaultConfig returns the stock orchestrator settings.
func DefaultConfig() Config {
	return Config{
		Provider:      "openai",
		Temperature:   0.8,
		MaxIterations: 8,
		WarningOffset: 3,
		Budget:        DefaultBudget(),
		Compaction:    DefaultCompaction(),
		EventLimit:    30,
		GapThreshold:  5 * time.Minute,
		ChunkLimit:    reply.DefaultLimit,
	}
}

// ConfigFrom maps the application config onto orchestrator settings.
func ConfigFrom(cfg *config.Config) Config {
	a := cfg.Agent
	c := DefaultConfig()
	c.Model = cfg.Model.Name
	c.Provider = cfg.Model.Provider
	c.Temperature = cfg.Model.Temperature
	c.MaxIterations = a.MaxIterations
	c.WarningOffset = a.WarningOffset
	c.Budget = Budget{
		ContextLimit:  a.ContextLimit,
		MaxCompletion: a.MaxCompletionTokens,
		Floor:         a.CompletionFloor,
		Minimum:       a.MinCompletionTokens,
		SafetyMargin:  a.SafetyMargin,
		CharsPerToken: a.CharsPerToken,
		TurnOverhead:  a.TurnOverhead,
	}
	c.Compaction.Trigger = a.CompactTrigger
	c.Compaction.Retain = a.CompactRetain
	c.Compaction.InputLimit = a.SummaryInputLimit
	c.Compaction.Model = cfg.Model.Name
	c.EventLimit = a.TranscriptEvents
	c.GapThreshold = time.Duration(a.GapMinutes) * time.Minute
	return c
}

// Request is one user message addressed to the agent.
type Request struct {
	Channel string
	Nick    string
	Text    string

	// Time is when the message was received. Zero means now.
	Time time.Time
}

// Reply is the outcome of one request. Exactly one final text is
// produced per request, by the model or canned.
type Reply struct {
	// Raw is the text as remembered, reasoning markup included.
	Raw string
	// Text is Raw after cleanup.
	Text string
	// Chunks is Text split for the transport.
	Chunks []string

	Iterations int
	ToolCalls  int
	Exhausted  bool
}

// Orchestrator handles agent requests for every channel.
type Orchestrator struct {
	cfg    Config
	client llm.Client
	tools  ToolExecutor
	convs  *Registry
	logger *slog.Logger
	now    func() time.Time

	events EventSource
	usage  UsageRecorder
	bus    *events.Bus

	mu   sync.RWMutex
	name string
}

// New creates an Orchestrator.
func New(cfg Config, client llm.Client, tools ToolExecutor, convs *Registry, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	d := DefaultConfig()
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = d.MaxIterations
	}
	if cfg.WarningOffset < 0 || cfg.WarningOffset >= cfg.MaxIterations {
		cfg.WarningOffset = 0
	}
	if cfg.ChunkLimit <= 0 {
		cfg.ChunkLimit = d.ChunkLimit
	}
	return &Orchestrator{
		cfg:    cfg,
		client: client,
		tools:  tools,
		convs:  convs,
		logger: logger,
		now:    time.Now,
	}
}

// SetEventSource supplies recent room activity for prompts.
func (o *Orchestrator) SetEventSource(src EventSource) { o.events = src }

// SetUsageRecorder enables token usage accounting.
func (o *Orchestrator) SetUsageRecorder(u UsageRecorder) { o.usage = u }

// SetBus enables operational events.
func (o *Orchestrator) SetBus(b *events.Bus) { o.bus = b }

// SetName updates the bot nick shown in the persona.
func (o *Orchestrator) SetName(name string) {
	o.mu.Lock()
	o.name = name
	o.mu.Unlock()
}

func (o *Orchestrator) botName() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.name
}

// Conversations returns the conversation registry.
func (o *Orchestrator) Conversations() *Registry { return o.convs }

// Handle answers req using the channel's conversation and the tools.
// notify, if non-nil, receives interim notices such as the "still
// working" message; it is called at most once per request.
//
// On a model failure the returned Reply still carries an apology to
// send, alongside the error.
func (o *Orchestrator) Handle(ctx context.Context, req Request, notify func(string)) (Reply, error) {
	start := o.now()
	requestID := newRequestID()
	log := o.logger.With("request_id", requestID, "channel", req.Channel, "nick", req.Nick)

	conv, err := o.convs.Get(ctx, req.Channel)
	if err != nil {
		log.Error("conversation unavailable", "error", err)
		return o.apology(prompts.FailureReply), err
	}

	conv.turn.Lock()
	defer conv.turn.Unlock()

	o.bus.Emit(events.SourceAgent, events.KindRequestStart, map[string]any{
		"channel": req.Channel, "nick": req.Nick, "request_id": requestID,
	})

	o.compact(ctx, conv, requestID, log)

	at := req.Time
	if at.IsZero() {
		at = o.now()
	}
	rep, err := o.run(ctx, &loopState{
		conv:      conv,
		requestID: requestID,
		nick:      req.Nick,
		userTurn:  prompts.UserTurn(at.Local(), req.Nick, req.Text),
		notify:    notify,
		log:       log,
	})
	if err != nil {
		o.bus.Emit(events.SourceAgent, events.KindRequestFailed, map[string]any{
			"request_id": requestID, "channel": req.Channel, "error": err.Error(),
		})
		return rep, err
	}

	elapsed := o.now().Sub(start)
	log.Info("request complete",
		"iterations", rep.Iterations,
		"tool_calls", rep.ToolCalls,
		"exhausted", rep.Exhausted,
		"elapsed", elapsed.Round(time.Millisecond),
	)
	o.bus.Emit(events.SourceAgent, events.KindRequestComplete, map[string]any{
		"request_id": requestID, "channel": req.Channel, "iterations": rep.Iterations,
		"exhausted": rep.Exhausted, "elapsed_ms": elapsed.Milliseconds(), "chunks": len(rep.Chunks),
	})
	return rep, nil
}

func (o *Orchestrator) compact(ctx context.Context, conv *Conversation, requestID string, log *slog.Logger) {
	before := conv.Len()
	compacted, resp, err := conv.MaybeCompact(ctx, o.client, o.cfg.Compaction)
	if resp != nil {
		o.recordUsage(ctx, requestID, conv.Channel(), usage.PurposeCompaction, resp)
	}
	if err != nil {
		log.Warn("compaction skipped", "error", err)
		return
	}
	if compacted {
		after := conv.Len()
		o.bus.Emit(events.SourceAgent, events.KindCompaction, map[string]any{
			"channel": conv.Channel(), "compacted_turns": before - after, "retained_turns": after,
		})
	}
}

// Ask answers a one-off question with no channel context, history or
// tools. Nothing is remembered.
func (o *Orchestrator) Ask(ctx context.Context, channel, question string) (Reply, error) {
	msgs := []llm.Message{
		{Role: llm.RoleSystem, Content: prompts.AskInstruction(o.botName())},
		{Role: llm.RoleUser, Content: question},
	}
	resp, err := o.client.Chat(ctx, &llm.Request{
		Model:       o.cfg.Model,
		Messages:    msgs,
		Temperature: o.cfg.Temperature,
		MaxTokens:   o.cfg.Budget.Completion(msgs),
	})
	if err != nil {
		return o.apology(apologyFor(err)), fmt.Errorf("ask: %w", err)
	}
	o.recordUsage(ctx, newRequestID(), channel, usage.PurposeAsk, resp)

	raw := resp.Message.Content
	text := reply.Finish(raw)
	if text == "" {
		raw, text = prompts.FailureReply, prompts.FailureReply
	}
	return Reply{Raw: raw, Text: text, Chunks: reply.Split(text, o.cfg.ChunkLimit), Iterations: 1}, nil
}

// Clear forgets channel's conversation and summary. It waits for any
// request in flight for the channel.
func (o *Orchestrator) Clear(ctx context.Context, channel string) error {
	conv, err := o.convs.Get(ctx, channel)
	if err != nil {
		return err
	}
	conv.turn.Lock()
	defer conv.turn.Unlock()
	return conv.Clear(ctx)
}

func (o *Orchestrator) apology(text string) Reply {
	return Reply{Raw: text, Text: text, Chunks: []string{text}}
}

func (o *Orchestrator) recordUsage(ctx context.Context, requestID, channel, purpose string, resp *llm.Response) {
	if o.usage == nil || resp == nil {
		return
	}
	model := resp.Model
	if model == "" {
		model = o.cfg.Model
	}
	err := o.usage.Record(ctx, usage.Record{
		RequestID:    requestID,
		Channel:      channel,
		Model:        model,
		Provider:     o.cfg.Provider,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		Purpose:      purpose,
	})
	if err != nil {
		o.logger.Warn("usage not recorded", "request_id", requestID, "error", err)
	}
}

// apologyFor picks the canned reply for a model failure.
func apologyFor(err error) string {
	if errors.Is(err, llm.ErrConnection) || errors.Is(err, llm.ErrTimeout) {
		return prompts.ConnectionReply
	}
	return prompts.FailureReply
}

func newRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
