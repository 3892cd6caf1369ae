package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/terrarium-irc/internal/events"
	"github.com/nugget/terrarium-irc/internal/llm"
	"github.com/nugget/terrarium-irc/internal/prompts"
	"github.com/nugget/terrarium-irc/internal/reply"
	"github.com/nugget/terrarium-irc/internal/tools"
	"github.com/nugget/terrarium-irc/internal/usage"
)

// loopState carries one request through the tool loop.
type loopState struct {
	conv      *Conversation
	requestID string
	nick      string
	userTurn  string
	notify    func(string)
	log       *slog.Logger

	userRecorded bool
	warned       bool
	nudged       bool
	toolCalls    int
}

// run drives the model to a final answer. Each iteration is one model
// call; requested tools run in order and their results are fed back.
// The loop ends with a model answer or, at the ceiling, a canned one.
func (o *Orchestrator) run(ctx context.Context, st *loopState) (Reply, error) {
	channel := st.conv.Channel()
	ceiling := o.cfg.MaxIterations

	msgs := st.conv.Assemble(ctx, PromptConfig{
		Name:         o.botName(),
		Events:       o.events,
		EventLimit:   o.cfg.EventLimit,
		GapThreshold: o.cfg.GapThreshold,
	})
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: st.userTurn})
	defs := o.tools.Definitions()

	for i := 0; i < ceiling; i++ {
		if o.cfg.WarningOffset > 0 && !st.warned && i == ceiling-o.cfg.WarningOffset {
			st.warned = true
			msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: prompts.IterationWarning(ceiling - i)})
			if st.notify != nil {
				st.notify(prompts.WorkingNotice)
			}
		}

		maxTokens := o.cfg.Budget.Completion(msgs)
		o.bus.Emit(events.SourceAgent, events.KindLLMCall, map[string]any{
			"request_id": st.requestID, "iter": i, "max_tokens": maxTokens,
			"est_prompt_tokens": o.cfg.Budget.EstimatePrompt(msgs),
		})
		st.log.Debug("calling model", "iter", i, "messages", len(msgs), "max_tokens", maxTokens)

		resp, err := o.client.Chat(ctx, &llm.Request{
			Model:       o.cfg.Model,
			Messages:    msgs,
			Tools:       defs,
			Temperature: o.cfg.Temperature,
			MaxTokens:   maxTokens,
		})
		if err != nil {
			st.log.Error("model call failed", "iter", i, "error", err)
			return o.apology(apologyFor(err)), fmt.Errorf("model call %d: %w", i, err)
		}
		o.recordUsage(ctx, st.requestID, channel, usage.PurposeReply, resp)

		// The user turn is only remembered once the model has answered,
		// so an unreachable model leaves the conversation unchanged.
		if !st.userRecorded {
			st.conv.RecordUser(ctx, st.userTurn)
			st.userRecorded = true
		}

		calls := uniqueCallIDs(resp.Message.ToolCalls)
		fallback := false
		if len(calls) == 0 {
			if tc, ok := llm.ParseTextToolCall(resp.Message.Content, o.tools.Names()); ok {
				st.log.Info("recovered tool call from reply text", "tool", tc.Name)
				// Recorded as a structured call would arrive, so a reload
				// yields identical history.
				calls = []llm.ToolCall{tc.Normalized()}
				fallback = true
			}
		}
		o.bus.Emit(events.SourceModel, events.KindLLMResponse, map[string]any{
			"request_id": st.requestID, "iter": i, "model": resp.Model,
			"tokens_in": resp.InputTokens, "tokens_out": resp.OutputTokens,
			"tool_calls": len(calls), "fallback": fallback,
		})

		if len(calls) == 0 {
			raw := resp.Message.Content
			text := reply.Finish(raw)
			if text == "" && !st.nudged {
				st.nudged = true
				st.log.Warn("empty model reply, nudging", "iter", i)
				msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: prompts.EmptyNudge})
				continue
			}
			if text == "" {
				raw, text = prompts.FailureReply, prompts.FailureReply
			}
			st.conv.RecordAssistant(ctx, raw)
			return Reply{
				Raw:        raw,
				Text:       text,
				Chunks:     reply.Split(text, o.cfg.ChunkLimit),
				Iterations: i + 1,
				ToolCalls:  st.toolCalls,
			}, nil
		}

		call := llm.Message{Role: llm.RoleAssistant, Content: resp.Message.Content, ToolCalls: calls}
		st.conv.RecordToolCall(ctx, call)
		msgs = append(msgs, call)

		for _, tc := range calls {
			result := o.executeTool(ctx, st, tc)
			msgs = append(msgs, result)
		}
	}

	st.log.Warn("tool loop hit iteration ceiling", "ceiling", ceiling, "tool_calls", st.toolCalls)
	st.conv.RecordAssistant(ctx, prompts.ExhaustedReply)
	return Reply{
		Raw:        prompts.ExhaustedReply,
		Text:       prompts.ExhaustedReply,
		Chunks:     reply.Split(prompts.ExhaustedReply, o.cfg.ChunkLimit),
		Iterations: ceiling,
		ToolCalls:  st.toolCalls,
		Exhausted:  true,
	}, nil
}

// executeTool runs one tool call and records its result turn.
func (o *Orchestrator) executeTool(ctx context.Context, st *loopState, tc llm.ToolCall) llm.Message {
	args := tc.Arguments
	if args == nil {
		args = make(map[string]any)
	}
	o.bus.Emit(events.SourceAgent, events.KindToolCall, map[string]any{
		"request_id": st.requestID, "tool": tc.Name, "tool_call_id": tc.ID,
	})

	toolCtx := tools.WithToolCallID(tools.WithNick(ctx, st.nick), tc.ID)
	start := time.Now()
	content := o.tools.Execute(toolCtx, tc.Name, args, st.conv.Channel())
	st.toolCalls++

	o.bus.Emit(events.SourceAgent, events.KindToolDone, map[string]any{
		"request_id": st.requestID, "tool": tc.Name, "duration_ms": time.Since(start).Milliseconds(),
	})

	result := llm.Message{
		Role:       llm.RoleTool,
		Content:    content,
		ToolCallID: tc.ID,
		ToolName:   tc.Name,
	}
	st.conv.RecordToolResult(ctx, result)
	return result
}

// uniqueCallIDs fills in missing tool call IDs and replaces duplicates
// so every result pairs with exactly one request.
func uniqueCallIDs(calls []llm.ToolCall) []llm.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]llm.ToolCall, len(calls))
	seen := make(map[string]bool, len(calls))
	for i, tc := range calls {
		if tc.ID == "" || seen[tc.ID] {
			tc.ID = "call_" + uuid.NewString()
		}
		seen[tc.ID] = true
		out[i] = tc
	}
	return out
}
