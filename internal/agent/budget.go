package agent

import (
	"math"

	"github.com/nugget/terrarium-irc/internal/llm"
)

// Budget estimates prompt size and picks a completion token budget that
// keeps prompt plus completion inside the model's context window.
type Budget struct {
	ContextLimit  int
	MaxCompletion int
	Floor         int
	Minimum       int
	SafetyMargin  int

	// CharsPerToken is the empirical characters-per-token ratio used
	// to turn character counts into token estimates.
	CharsPerToken float64

	// TurnOverhead is the fixed character cost charged per turn for
	// role tags and framing.
	TurnOverhead int
}

// DefaultBudget matches an 8k context local model.
func DefaultBudget() Budget {
	return Budget{
		ContextLimit:  8192,
		MaxCompletion: 512,
		Floor:         128,
		Minimum:       32,
		SafetyMargin:  256,
		CharsPerToken: 4,
		TurnOverhead:  16,
	}
}

// EstimatePrompt returns the approximate token count of msgs. Tool call
// arguments count toward the estimate.
func (b Budget) EstimatePrompt(msgs []llm.Message) int {
	chars := 0
	for _, m := range msgs {
		chars += len(m.Content) + b.TurnOverhead
		for _, tc := range m.ToolCalls {
			chars += len(tc.Name) + len(tc.ArgumentsJSON())
		}
	}
	cpt := b.CharsPerToken
	if cpt <= 0 {
		cpt = 4
	}
	return int(math.Ceil(float64(chars) / cpt))
}

// Completion returns the completion token budget for msgs:
// min(MaxCompletion, max(Floor, ContextLimit - estimate - SafetyMargin)),
// never below Minimum.
func (b Budget) Completion(msgs []llm.Message) int {
	return b.completionFor(b.EstimatePrompt(msgs))
}

func (b Budget) completionFor(estimate int) int {
	room := b.ContextLimit - estimate - b.SafetyMargin
	n := min(b.MaxCompletion, max(b.Floor, room))
	minimum := max(b.Minimum, 1)
	if n < minimum {
		n = minimum
	}
	return n
}
