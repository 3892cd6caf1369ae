// Package tools holds the capabilities the model may call mid-conversation
// and the executor that runs them.
//
// Every result handed back to the model is a JSON payload wrapped in a
// <tool_result tool="name"> block, so both the model and anyone reading
// the stored conversation can tell which tool produced it. Failures inside
// a tool become {"error": "..."} payloads; Execute never returns an error.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nugget/terrarium-irc/internal/llm"
	"github.com/nugget/terrarium-irc/internal/transcript"
)

// levelTrace matches config.LevelTrace.
const levelTrace = slog.Level(-8)

// Handler runs one tool invocation and returns its JSON payload.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Tool is a named, schema-described capability.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Handler     Handler
}

// Auditor records executed tool calls. *transcript.Store satisfies it.
type Auditor interface {
	RecordToolCall(ctx context.Context, r transcript.ToolCallRecord) error
}

// Registry holds the available tools in registration order.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]*Tool
	order   []string
	auditor Auditor
	logger  *slog.Logger
	now     func() time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]*Tool),
		logger: logger,
		now:    time.Now,
	}
}

// SetAuditor enables recording of every executed call.
func (r *Registry) SetAuditor(a Auditor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.auditor = a
}

// Register adds t, replacing any tool with the same name.
func (r *Registry) Register(t *Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[t.Name]; !ok {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

// Lookup returns the named tool or *ErrToolUnavailable.
func (r *Registry) Lookup(name string) (*Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return nil, &ErrToolUnavailable{ToolName: name}
	}
	return t, nil
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Definitions returns the schema of every tool for a model request.
func (r *Registry) Definitions() []llm.ToolDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]llm.ToolDef, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, llm.ToolDef{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return defs
}

// Execute runs the named tool for channel and returns its wrapped
// result. Unknown tools and handler failures produce an error payload.
// A nil args map is treated as empty.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any, channel string) string {
	if args == nil {
		args = make(map[string]any)
	}
	ctx = WithChannel(ctx, channel)

	t, err := r.Lookup(name)
	if err != nil {
		r.logger.Warn("model requested unknown tool", "tool", name, "channel", channel)
		return Wrap(name, ErrorPayload("Unknown tool: "+name))
	}

	start := r.now()
	payload, err := t.Handler(ctx, args)
	elapsed := r.now().Sub(start)

	errText := ""
	if err != nil {
		errText = err.Error()
		payload = ErrorPayload(errText)
		r.logger.Warn("tool failed",
			"tool", name, "channel", channel, "duration", elapsed, "error", err)
	} else {
		r.logger.Info("tool executed",
			"tool", name, "channel", channel, "duration", elapsed, "bytes", len(payload))
	}
	r.logger.Log(ctx, levelTrace, "tool payload", "tool", name, "args", args, "payload", payload)

	r.audit(ctx, transcript.ToolCallRecord{
		Channel:    channel,
		ToolCallID: ToolCallIDFromContext(ctx),
		ToolName:   name,
		Arguments:  marshalArgs(args),
		Result:     payload,
		Error:      errText,
		StartedAt:  start,
		Duration:   elapsed,
	})

	return Wrap(name, payload)
}

func (r *Registry) audit(ctx context.Context, rec transcript.ToolCallRecord) {
	r.mu.RLock()
	a := r.auditor
	r.mu.RUnlock()
	if a == nil {
		return
	}
	if err := a.RecordToolCall(ctx, rec); err != nil {
		r.logger.Warn("tool call audit failed", "tool", rec.ToolName, "error", err)
	}
}

// Wrap encloses payload in the tool_result block for name.
func Wrap(name, payload string) string {
	return fmt.Sprintf("<tool_result tool=%q>\n%s\n</tool_result>", name, payload)
}

// ErrorPayload returns {"error": msg}.
func ErrorPayload(msg string) string {
	return mustJSON(map[string]any{"error": msg})
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, "encode result: "+err.Error())
	}
	return string(b)
}

func marshalArgs(args map[string]any) string {
	b, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// stringArg returns args[key] as a trimmed string. Non-string scalars
// are formatted.
func stringArg(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// intArg returns args[key] as an int. Models send numbers as JSON
// numbers, strings or, from the text fallback parser, Go ints.
func intArg(args map[string]any, key string) (int, bool) {
	switch v := args[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		return n, err == nil
	}
	return 0, false
}
