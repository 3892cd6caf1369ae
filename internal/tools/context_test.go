package tools

import (
	"context"
	"testing"
)

func TestContextValues(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		get  func(context.Context) string
		want string
	}{
		{"channel unset", context.Background(), ChannelFromContext, ""},
		{"channel", WithChannel(context.Background(), "#terrarium"), ChannelFromContext, "#terrarium"},
		{"nick unset", context.Background(), NickFromContext, ""},
		{"nick", WithNick(context.Background(), "alice"), NickFromContext, "alice"},
		{"tool call id", WithToolCallID(context.Background(), "call_1"), ToolCallIDFromContext, "call_1"},
		{"keys do not collide", WithNick(context.Background(), "alice"), ChannelFromContext, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.get(tt.ctx); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
