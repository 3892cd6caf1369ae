package prompts

import (
	"fmt"
	"strings"
)

// compactionInstruction is the fixed system turn for a summarization
// call. It is deliberately short so the summarizer spends its budget on
// the transcript.
const compactionInstruction = `You maintain the long-term memory of an IRC assistant named Terra.
Merge the previous summary with the new conversation excerpt into one updated summary.
Keep who asked what, what was searched or filed, answers given, and anything still unresolved.
Use plain sentences, no more than 200 words. Output only the summary.`

const compactionTemplate = `Previous summary:
%s

New conversation excerpt:
%s`

// CompactionInstruction returns the system turn for a summarization call.
func CompactionInstruction() string {
	return compactionInstruction
}

// CompactionPrompt returns the user turn for a summarization call. An
// empty previous summary is shown as "(none)".
func CompactionPrompt(previousSummary, excerpt string) string {
	prev := strings.TrimSpace(previousSummary)
	if prev == "" {
		prev = "(none)"
	}
	return fmt.Sprintf(compactionTemplate, prev, excerpt)
}

// SummaryBlock wraps a rolling summary for the prompt so the model can
// tell it apart from live conversation.
func SummaryBlock(summary string) string {
	return "<conversation_summary>\n" + strings.TrimSpace(summary) + "\n</conversation_summary>\n" +
		"The block above summarizes your earlier conversation in this channel."
}
