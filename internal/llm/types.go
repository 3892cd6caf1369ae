// Package llm talks to the remote model endpoint. It defines the
// provider-neutral request and response shapes the orchestrator works
// with and converts them to each provider's wire format at the edge.
package llm

import (
	"context"
	"encoding/json"
	"time"
)

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one role-tagged turn sent to or received from the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`

	// ToolCalls is set on assistant turns that request tool invocations.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID and ToolName are set on tool turns and pair the result
	// with the assistant request that produced it.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
}

// HasToolCalls reports whether the message requests tool invocations.
func (m Message) HasToolCalls() bool { return len(m.ToolCalls) > 0 }

// ToolCall is a single tool invocation requested by the model. ID is
// unique within one response.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ArgumentsJSON renders the arguments as a JSON object. A nil map
// encodes as "{}" so providers never see "null".
func (tc ToolCall) ArgumentsJSON() string {
	if len(tc.Arguments) == 0 {
		return "{}"
	}
	b, err := json.Marshal(tc.Arguments)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Normalized returns tc with its arguments passed through JSON, so
// numbers become float64 exactly as they do after a store round trip
// or from a structured call.
func (tc ToolCall) Normalized() ToolCall {
	tc.Arguments = ParseToolArguments(tc.ArgumentsJSON())
	return tc
}

// ToolDef describes a tool the model may call. Parameters is a JSON
// Schema object.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request is one chat completion call.
type Request struct {
	Model       string
	Messages    []Message
	Tools       []ToolDef
	Temperature float64
	MaxTokens   int
}

// Response is the provider-neutral result of a chat completion.
type Response struct {
	Model   string
	Message Message

	InputTokens  int
	OutputTokens int
	Duration     time.Duration
}

// Client is the contract every model endpoint implements.
type Client interface {
	// Chat sends one completion request. It does not stream.
	Chat(ctx context.Context, req *Request) (*Response, error)

	// Ping checks whether the endpoint is reachable.
	Ping(ctx context.Context) error
}

// ParseToolArguments decodes a JSON argument payload. Malformed input
// yields an empty map so a confused model degrades the tool result
// instead of aborting the loop.
func ParseToolArguments(argsJSON string) map[string]any {
	var args map[string]any
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil || args == nil {
		return make(map[string]any)
	}
	return args
}
