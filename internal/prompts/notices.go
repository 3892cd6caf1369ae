package prompts

import (
	"fmt"
	"time"
)

// Canned replies used when the model cannot produce one.
const (
	ExhaustedReply  = "Sorry, I went down a rabbit hole and ran out of steps before finding an answer. Try asking more specifically?"
	ConnectionReply = "Sorry, I can't reach my brain right now. Try again in a bit."
	FailureReply    = "Sorry, something went wrong while I was thinking about that."
	WorkingNotice   = "Still digging, hang on..."
	ThinkingNotice  = "Thinking..."

	// EmptyNudge follows a reply that was empty after cleanup.
	EmptyNudge = "[System: Your last reply was empty. Answer the user now in plain text.]"
)

// IterationWarning is injected once when the tool loop nears its ceiling.
func IterationWarning(remaining int) string {
	return fmt.Sprintf("[System: You have %d tool rounds left. Stop calling tools soon and answer with what you have.]", remaining)
}

// GapNotice tells the model how long it has been silent. Gaps under an
// hour are shown in whole minutes, longer ones in hours with one decimal.
func GapNotice(gap time.Duration) string {
	minutes := int(gap / time.Minute)
	if minutes < 60 {
		return fmt.Sprintf("[System: %d minutes have passed since your last response.]", minutes)
	}
	return fmt.Sprintf("[System: %.1f hours have passed since your last response.]", gap.Hours())
}

// UserTurn formats a chat line the way it is remembered.
func UserTurn(at time.Time, nick, text string) string {
	return fmt.Sprintf("[%s] <%s> %s", at.Format("15:04"), nick, text)
}
