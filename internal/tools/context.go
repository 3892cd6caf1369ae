package tools

import "context"

type contextKey string

const (
	channelKey    contextKey = "channel"
	nickKey       contextKey = "nick"
	toolCallIDKey contextKey = "tool_call_id"
)

// WithChannel records the channel a tool call runs on behalf of.
func WithChannel(ctx context.Context, channel string) context.Context {
	return context.WithValue(ctx, channelKey, channel)
}

// ChannelFromContext returns the channel set by WithChannel, or "".
func ChannelFromContext(ctx context.Context) string {
	s, _ := ctx.Value(channelKey).(string)
	return s
}

// WithNick records the nick whose request triggered the tool call.
func WithNick(ctx context.Context, nick string) context.Context {
	return context.WithValue(ctx, nickKey, nick)
}

// NickFromContext returns the nick set by WithNick, or "".
func NickFromContext(ctx context.Context) string {
	s, _ := ctx.Value(nickKey).(string)
	return s
}

// WithToolCallID records the model-assigned id of the call being
// executed so the audit record can reference it.
func WithToolCallID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, toolCallIDKey, id)
}

// ToolCallIDFromContext returns the id set by WithToolCallID, or "".
func ToolCallIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(toolCallIDKey).(string)
	return s
}
