package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/nugget/terrarium-irc/internal/transcript"
)

// searchResultLimit caps matches returned to the model.
const searchResultLimit = 10

// ChatLog is the transcript surface the chat tools read.
type ChatLog interface {
	Search(ctx context.Context, q transcript.SearchQuery) ([]transcript.Event, transcript.SearchMode, error)
	Members(ctx context.Context, channel string) ([]string, error)
}

// RegisterChatLog adds search_chat_logs and get_current_users.
func RegisterChatLog(r *Registry, log ChatLog) {
	r.Register(&Tool{
		Name:        "search_chat_logs",
		Description: "Search IRC message history for specific content. Use this when users ask about past conversations or specific topics discussed in the channel.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Text to search for. Can be multiple words (all must match), or use + for OR (e.g., 'docker+kubernetes'), or use quotes for exact phrase.",
				},
				"user": map[string]any{
					"type":        "string",
					"description": "Optional: only search messages from this nickname",
				},
				"hours": map[string]any{
					"type":        "integer",
					"description": "Optional: only search messages from the last N hours (e.g., 24 for last day, 168 for last week)",
				},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return searchChatLogs(ctx, log, args)
		},
	})

	r.Register(&Tool{
		Name:        "get_current_users",
		Description: "Get a list of users currently in the IRC channel. Use this when users ask who's present or online.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: func(ctx context.Context, _ map[string]any) (string, error) {
			channel := ChannelFromContext(ctx)
			users, err := log.Members(ctx, channel)
			if err != nil {
				return "", fmt.Errorf("roster lookup: %w", err)
			}
			if users == nil {
				users = []string{}
			}
			return mustJSON(map[string]any{
				"result": fmt.Sprintf("%d users in %s", len(users), channel),
				"count":  len(users),
				"users":  users,
			}), nil
		},
	})
}

type chatMatch struct {
	Timestamp string `json:"timestamp"`
	Nick      string `json:"nick"`
	Message   string `json:"message"`
}

func searchChatLogs(ctx context.Context, log ChatLog, args map[string]any) (string, error) {
	query := stringArg(args, "query")
	if query == "" {
		return ErrorPayload("query parameter is required"), nil
	}

	// Echo filters back as null when absent so the model can see what
	// was actually applied.
	var user, hours any
	q := transcript.SearchQuery{
		Query:   query,
		Channel: ChannelFromContext(ctx),
		Limit:   searchResultLimit,
	}
	if u := stringArg(args, "user"); u != "" {
		q.Nick = u
		user = u
	}
	if h, ok := intArg(args, "hours"); ok && h > 0 {
		q.Hours = h
		hours = h
	}

	events, mode, err := log.Search(ctx, q)
	if err != nil {
		return "", fmt.Errorf("search chat logs: %w", err)
	}
	if len(events) == 0 {
		return mustJSON(map[string]any{
			"result": "No messages found",
			"count":  0,
		}), nil
	}

	if len(events) > searchResultLimit {
		events = events[len(events)-searchResultLimit:]
	}
	matches := make([]chatMatch, len(events))
	for i, e := range events {
		matches[i] = chatMatch{
			Timestamp: e.Timestamp.Local().Format("2006-01-02 15:04"),
			Nick:      e.Nick,
			Message:   e.Message,
		}
	}

	echoed := query
	if mode == transcript.ModePhrase {
		echoed = strings.Trim(strings.TrimSpace(query), `"`)
	}
	return mustJSON(map[string]any{
		"result":   fmt.Sprintf("Found %d messages", len(events)),
		"count":    len(events),
		"messages": matches,
		"query":    echoed,
		"filters": map[string]any{
			"user":  user,
			"hours": hours,
			"mode":  string(mode),
		},
	}), nil
}
