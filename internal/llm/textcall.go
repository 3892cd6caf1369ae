package llm

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ParseTextToolCall recovers a tool invocation from models that cannot
// emit structured tool calls and instead write one into their text
// reply. Two shapes are recognised:
//
//	search_chat_logs(query="docker", hours=24)
//	<tool_call>{"name": "search_chat_logs", "arguments": {"query": "docker"}}</tool_call>
//
// Either may be wrapped in one pair of delimiter tags, whose angle
// brackets some models drop. The call must be the whole reply: a call
// quoted inside prose is an answer, not an invocation. Only names in
// allowed are accepted and at most one call is returned. This is a
// best-effort compatibility path; structured tool calls always win.
func ParseTextToolCall(content string, allowed []string) (ToolCall, bool) {
	content = strings.TrimSpace(content)
	if content == "" || len(allowed) == 0 {
		return ToolCall{}, false
	}

	if tc, ok := parseFuncCall(content, allowed); ok {
		return tc, true
	}
	return parseJSONCall(content, allowed)
}

func newTextCallID() string {
	return "call_" + uuid.NewString()
}

func funcCallPattern(allowed []string) *regexp.Regexp {
	names := make([]string, len(allowed))
	for i, n := range allowed {
		names[i] = regexp.QuoteMeta(n)
	}
	return regexp.MustCompile(`^` + openTag + `(` + strings.Join(names, "|") + `)\s*\(([^()]*)\)` + closeTag + `$`)
}

// openTag and closeTag match an optional delimiter around the whole
// payload: "<tool_call>", "tool_result>", "</tool_result" and so on.
const (
	openTag  = `\s*(?:<?[\w-]+>)?\s*`
	closeTag = `\s*(?:</?[\w-]*>?|/?[\w-]*>)?\s*`
)

var jsonCallPattern = regexp.MustCompile(`(?s)^` + openTag + `(\{.*\})` + closeTag + `$`)

func parseFuncCall(content string, allowed []string) (ToolCall, bool) {
	m := funcCallPattern(allowed).FindStringSubmatch(content)
	if m == nil {
		return ToolCall{}, false
	}

	args := make(map[string]any)
	for _, part := range splitArgs(m[2]) {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		args[key] = coerceValue(strings.TrimSpace(value))
	}

	return ToolCall{ID: newTextCallID(), Name: m[1], Arguments: args}, true
}

// splitArgs splits on commas that are not inside quotes.
func splitArgs(s string) []string {
	var (
		parts []string
		cur   strings.Builder
		quote rune
	)
	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
			cur.WriteRune(r)
		case r == '"' || r == '\'':
			quote = r
			cur.WriteRune(r)
		case r == ',':
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if strings.TrimSpace(cur.String()) != "" {
		parts = append(parts, cur.String())
	}
	return parts
}

// coerceValue types a literal: quoted strings lose their quotes,
// true/false become bools, none/null become nil, numerals become int or
// float64, and anything else stays a string.
func coerceValue(v string) any {
	if len(v) >= 2 {
		first, last := v[0], v[len(v)-1]
		if (first == '"' || first == '\'') && first == last {
			return v[1 : len(v)-1]
		}
	}
	switch strings.ToLower(v) {
	case "true":
		return true
	case "false":
		return false
	case "none", "null":
		return nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return v
}

func parseJSONCall(content string, allowed []string) (ToolCall, bool) {
	m := jsonCallPattern.FindStringSubmatch(content)
	if m == nil {
		return ToolCall{}, false
	}

	var call struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(m[1]), &call); err != nil || call.Name == "" {
		return ToolCall{}, false
	}
	for _, name := range allowed {
		if name == call.Name {
			if call.Arguments == nil {
				call.Arguments = make(map[string]any)
			}
			return ToolCall{ID: newTextCallID(), Name: call.Name, Arguments: call.Arguments}, true
		}
	}
	return ToolCall{}, false
}
