// Package reply turns a model's raw answer into lines fit for a chat
// channel: reasoning markup and echoed speaker prefixes are removed and
// long text is split into transport-sized chunks.
package reply

import (
	"regexp"
	"strings"
)

// DefaultLimit is the chunk size used for channel replies. It leaves
// room for the nick prefix and IRC framing inside a 512 byte line.
const DefaultLimit = 400

var (
	reasoningBlock = regexp.MustCompile(`(?is)<(think|thinking|thought|reasoning)>.*?</(?:think|thinking|thought|reasoning)>`)

	// A leading "[14:05] <Terra>" or "[14:05] Terra:" the model copied
	// from the transcript format.
	echoedPrefix = regexp.MustCompile(`^\[\d{2}:\d{2}\]\s*(?:<[^<>\s]+>|[\w\-\[\]\\^{}|` + "`" + `]+:)?\s*`)
)

// StripReasoning removes every reasoning block and its content.
func StripReasoning(s string) string {
	return reasoningBlock.ReplaceAllString(s, "")
}

// StripEchoedPrefix removes a leading timestamp and speaker tag.
func StripEchoedPrefix(s string) string {
	return echoedPrefix.ReplaceAllString(s, "")
}

// Finish cleans raw model text for display. The raw text is what gets
// remembered; only the finished text is sent.
func Finish(raw string) string {
	s := StripReasoning(raw)
	s = strings.TrimSpace(s)
	s = StripEchoedPrefix(s)
	return strings.TrimSpace(s)
}
