package prompts

import (
	"fmt"
	"strings"

	"github.com/nugget/terrarium-irc/internal/transcript"
)

// FormatEvent renders one channel event with its time. Each event type
// has its own shape.
func FormatEvent(e transcript.Event) string {
	ts := e.Timestamp.Local().Format("15:04")
	switch e.Type {
	case transcript.EventJoin:
		return fmt.Sprintf("[%s] --> %s joined %s", ts, e.Nick, e.Channel)
	case transcript.EventPart:
		if e.Message != "" {
			return fmt.Sprintf("[%s] <-- %s left %s (%s)", ts, e.Nick, e.Channel, e.Message)
		}
		return fmt.Sprintf("[%s] <-- %s left %s", ts, e.Nick, e.Channel)
	case transcript.EventQuit:
		if e.Message != "" {
			return fmt.Sprintf("[%s] <-- %s quit (%s)", ts, e.Nick, e.Message)
		}
		return fmt.Sprintf("[%s] <-- %s quit", ts, e.Nick)
	case transcript.EventNick:
		return fmt.Sprintf("[%s] --- %s is now known as %s", ts, e.Nick, e.Message)
	case transcript.EventAction:
		return fmt.Sprintf("[%s] * %s %s", ts, e.Nick, e.Message)
	default:
		return fmt.Sprintf("[%s] <%s> %s", ts, e.Nick, e.Message)
	}
}

// TranscriptExcerpt renders recent room activity as one system turn.
// notice, when non-empty, is placed first.
func TranscriptExcerpt(channel string, events []transcript.Event, notice string) string {
	var sb strings.Builder
	if notice != "" {
		sb.WriteString(notice)
		sb.WriteString("\n\n")
	}
	fmt.Fprintf(&sb, "Recent activity in %s (%d events, oldest first):\n", channel, len(events))
	for _, e := range events {
		sb.WriteString(FormatEvent(e))
		sb.WriteByte('\n')
	}
	return strings.TrimRight(sb.String(), "\n")
}
