package llm

import (
	"reflect"
	"strings"
	"testing"
)

var chatTools = []string{"search_chat_logs", "get_current_users"}

func TestParseTextToolCall_DelimitedSearch(t *testing.T) {
	inputs := []string{
		`tool_result> search_chat_logs(query="docker", hours=24) </tool_result`,
		`<tool_result>search_chat_logs(query="docker", hours=24)</tool_result>`,
		`search_chat_logs(query="docker", hours=24)`,
	}
	for _, in := range inputs {
		tc, ok := ParseTextToolCall(in, chatTools)
		if !ok {
			t.Fatalf("ParseTextToolCall(%q) found nothing", in)
		}
		if tc.Name != "search_chat_logs" {
			t.Errorf("name = %q, want search_chat_logs", tc.Name)
		}
		if tc.Arguments["query"] != "docker" {
			t.Errorf("query = %#v, want \"docker\"", tc.Arguments["query"])
		}
		hours, isInt := tc.Arguments["hours"].(int)
		if !isInt || hours != 24 {
			t.Errorf("hours = %#v (%T), want int 24", tc.Arguments["hours"], tc.Arguments["hours"])
		}
		if !strings.HasPrefix(tc.ID, "call_") {
			t.Errorf("id = %q, want call_ prefix", tc.ID)
		}
	}
}

func TestParseTextToolCall_NoArgs(t *testing.T) {
	tc, ok := ParseTextToolCall("  get_current_users()\n", chatTools)
	if !ok || tc.Name != "get_current_users" {
		t.Fatalf("got %+v, %v", tc, ok)
	}
	if len(tc.Arguments) != 0 {
		t.Errorf("arguments = %v, want empty", tc.Arguments)
	}
}

func TestParseTextToolCall_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty", ""},
		{"prose", "Docker compose is great, alice said so."},
		{"unknown tool", `delete_everything(confirm=true)`},
		{"suffix of tool name", `my_search_chat_logs(query="x")`},
		{"json with unknown name", `{"name": "rm_rf", "arguments": {}}`},
		{"call quoted in prose", `I ran search_chat_logs(query="docker") and alice said docker compose is great.`},
		{"prose before call", "Let me check. get_current_users()"},
		{"prose after call", `search_chat_logs(query="docker") found nothing`},
		{"json inside prose", `The call was {"name": "search_chat_logs", "arguments": {"query": "x"}} and it worked.`},
		{"tagged json then prose", `<tool_call>{"name": "search_chat_logs", "arguments": {}}</tool_call> then I answered`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tc, ok := ParseTextToolCall(tt.content, chatTools); ok {
				t.Errorf("ParseTextToolCall(%q) = %+v, want no call", tt.content, tc)
			}
		})
	}
}

func TestParseTextToolCall_JSON(t *testing.T) {
	content := `<tool_call>{"name": "search_chat_logs", "arguments": {"query": "kubernetes", "user": "bob"}}</tool_call>`
	tc, ok := ParseTextToolCall(content, chatTools)
	if !ok {
		t.Fatal("expected a call")
	}
	if tc.Name != "search_chat_logs" || tc.Arguments["user"] != "bob" {
		t.Errorf("got %+v", tc)
	}
}

func TestParseTextToolCall_BareJSON(t *testing.T) {
	tc, ok := ParseTextToolCall(`{"name": "get_current_users", "arguments": {}}`, chatTools)
	if !ok || tc.Name != "get_current_users" {
		t.Fatalf("got %+v, %v", tc, ok)
	}
}

func TestToolCall_Normalized(t *testing.T) {
	tc, ok := ParseTextToolCall(`search_chat_logs(query="docker", hours=24)`, chatTools)
	if !ok {
		t.Fatal("expected a call")
	}
	n := tc.Normalized()
	if n.ID != tc.ID || n.Name != tc.Name {
		t.Errorf("normalized = %+v, want same id and name as %+v", n, tc)
	}
	if h, isFloat := n.Arguments["hours"].(float64); !isFloat || h != 24 {
		t.Errorf("hours = %#v (%T), want float64 24", n.Arguments["hours"], n.Arguments["hours"])
	}
	if !reflect.DeepEqual(n.Arguments, ParseToolArguments(tc.ArgumentsJSON())) {
		t.Errorf("normalized arguments %#v differ from a JSON round trip", n.Arguments)
	}
	if _, isInt := tc.Arguments["hours"].(int); !isInt {
		t.Error("Normalized modified the original arguments")
	}
}

func TestCoerceValue(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{`"docker"`, "docker"},
		{`'single'`, "single"},
		{`"a, b"`, "a, b"},
		{"TRUE", true},
		{"false", false},
		{"None", nil},
		{"null", nil},
		{"24", 24},
		{"-3", -3},
		{"2.5", 2.5},
		{"bare", "bare"},
	}
	for _, tt := range tests {
		if got := coerceValue(tt.in); got != tt.want {
			t.Errorf("coerceValue(%q) = %#v, want %#v", tt.in, got, tt.want)
		}
	}
}

func TestParseTextToolCall_QuotedComma(t *testing.T) {
	tc, ok := ParseTextToolCall(`search_chat_logs(query="red, green", user='carol')`, chatTools)
	if !ok {
		t.Fatal("expected a call")
	}
	if tc.Arguments["query"] != "red, green" || tc.Arguments["user"] != "carol" {
		t.Errorf("arguments = %#v", tc.Arguments)
	}
}

func TestParseToolArguments(t *testing.T) {
	if got := ParseToolArguments(`{"query":"x"}`); got["query"] != "x" {
		t.Errorf("valid payload = %v", got)
	}
	for _, bad := range []string{"", "not json", "null", "[1,2]"} {
		got := ParseToolArguments(bad)
		if got == nil || len(got) != 0 {
			t.Errorf("ParseToolArguments(%q) = %#v, want empty map", bad, got)
		}
	}
}
