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

// mockClient replays canned responses and records every request.
type mockClient struct {
	mu        sync.Mutex
	responses []*llm.Response
	errs      []error
	calls     []*llm.Request
}

func (m *mockClient) Chat(_ context.Context, req *llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *req
	cp.Messages = append([]llm.Message(nil), req.Messages...)
	m.calls = append(m.calls, &cp)

	i := len(m.calls) - 1
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	if i >= len(m.responses) {
		return nil, fmt.Errorf("mockClient: no response for call %d", i)
	}
	return m.responses[i], nil
}

func (m *mockClient) Ping(context.Context) error { return nil }

func (m *mockClient) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func textResponse(content string) *llm.Response {
	return &llm.Response{
		Model:        "test-model",
		Message:      llm.Message{Role: llm.RoleAssistant, Content: content},
		InputTokens:  100,
		OutputTokens: 20,
	}
}

func toolResponse(calls ...llm.ToolCall) *llm.Response {
	return &llm.Response{
		Model:        "test-model",
		Message:      llm.Message{Role: llm.RoleAssistant, ToolCalls: calls},
		InputTokens:  100,
		OutputTokens: 10,
	}
}

// memStore is an in-memory ConversationStore.
type memStore struct {
	mu        sync.Mutex
	turns     map[string][]llm.Message
	summaries map[string]string
	failWrite bool
}

func newMemStore() *memStore {
	return &memStore{turns: make(map[string][]llm.Message), summaries: make(map[string]string)}
}

func (s *memStore) AppendTurn(_ context.Context, channel string, m llm.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrite {
		return fmt.Errorf("disk full")
	}
	s.turns[channel] = append(s.turns[channel], m)
	return nil
}

func (s *memStore) LoadConversation(_ context.Context, channel string) ([]llm.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Message(nil), s.turns[channel]...), nil
}

func (s *memStore) LastTurnTime(context.Context, string) (time.Time, error) {
	return time.Time{}, nil
}

func (s *memStore) TruncateConversation(_ context.Context, channel string, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.turns[channel]
	if len(t) > keep {
		s.turns[channel] = append([]llm.Message(nil), t[len(t)-keep:]...)
	}
	return nil
}

func (s *memStore) ClearConversation(_ context.Context, channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.turns, channel)
	delete(s.summaries, channel)
	return nil
}

func (s *memStore) LoadSummary(_ context.Context, channel string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summaries[channel], nil
}

func (s *memStore) SaveSummary(_ context.Context, channel, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries[channel] = summary
	return nil
}

func (s *memStore) stored(channel string) []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Message(nil), s.turns[channel]...)
}

// stubTools echoes its arguments.
type stubTools struct {
	mu    sync.Mutex
	names []string
	runs  []string
}

func (s *stubTools) Names() []string { return s.names }

func (s *stubTools) Definitions() []llm.ToolDef {
	defs := make([]llm.ToolDef, len(s.names))
	for i, n := range s.names {
		defs[i] = llm.ToolDef{Name: n, Parameters: map[string]any{"type": "object"}}
	}
	return defs
}

func (s *stubTools) Execute(_ context.Context, name string, args map[string]any, channel string) string {
	s.mu.Lock()
	s.runs = append(s.runs, name)
	s.mu.Unlock()
	return fmt.Sprintf(`<tool_result tool=%q>{"channel":%q,"args":%d}</tool_result>`, name, channel, len(args))
}

type staticEvents []transcript.Event

func (e staticEvents) RecentEvents(context.Context, string, int, int, ...transcript.EventType) ([]transcript.Event, error) {
	return e, nil
}

func newTestOrchestrator(client llm.Client, store ConversationStore, tools ToolExecutor) *Orchestrator {
	cfg := DefaultConfig()
	cfg.Model = "test-model"
	return New(cfg, client, tools, NewRegistry(store, slog.Default()), slog.Default())
}
