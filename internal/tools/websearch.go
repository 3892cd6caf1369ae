package tools

import (
	"context"
	"fmt"

	"github.com/nugget/terrarium-irc/internal/search"
)

// RegisterWebSearch adds web_search backed by mgr. Nothing is
// registered when mgr has no providers.
func RegisterWebSearch(r *Registry, mgr *search.Manager) {
	if !mgr.Configured() {
		return
	}
	r.Register(&Tool{
		Name:        "web_search",
		Description: "Search the web for current information. Use this for questions about things outside the channel's own history.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The search query",
				},
				"count": map[string]any{
					"type":        "integer",
					"description": fmt.Sprintf("Maximum number of results (1-%d). Default: %d.", search.MaxCount, search.DefaultCount),
				},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			query := stringArg(args, "query")
			if query == "" {
				return ErrorPayload("query parameter is required"), nil
			}
			var opts search.Options
			if n, ok := intArg(args, "count"); ok {
				opts.Count = n
			}

			results, provider, err := mgr.Search(ctx, query, opts)
			if err != nil {
				return "", err
			}
			if results == nil {
				results = []search.Result{}
			}
			return mustJSON(map[string]any{
				"result":   fmt.Sprintf("%d results", len(results)),
				"count":    len(results),
				"provider": provider,
				"results":  results,
			}), nil
		},
	})
}
