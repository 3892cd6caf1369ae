package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/nugget/terrarium-irc/internal/forge"
	"github.com/nugget/terrarium-irc/internal/notes"
)

// IssueFiler mirrors a new request elsewhere. *forge.Mirror satisfies it.
type IssueFiler interface {
	File(ctx context.Context, req forge.Request) (*forge.Issue, bool, error)
}

// RegisterRequests adds the enhancement request tools backed by store.
// A non-nil filer also opens an issue for every newly created request.
func RegisterRequests(r *Registry, store *notes.Store, filer IssueFiler) {
	r.Register(&Tool{
		Name:        "create_enhancement_request",
		Description: "File a feature or enhancement request for the bot's maintainers. Use this when someone asks for a capability you do not have.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title": map[string]any{
					"type":        "string",
					"description": "Short summary of the requested feature",
				},
				"description": map[string]any{
					"type":        "string",
					"description": "What the feature should do and why it was requested",
				},
			},
			"required": []string{"title", "description"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return createRequest(ctx, store, filer, args)
		},
	})

	r.Register(&Tool{
		Name:        "list_enhancement_requests",
		Description: "List outstanding enhancement requests with their filenames and titles.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: func(context.Context, map[string]any) (string, error) {
			return listRequests(store)
		},
	})

	r.Register(&Tool{
		Name:        "read_enhancement_request",
		Description: "Read the content of one enhancement request by filename, as returned by list_enhancement_requests.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"filename": map[string]any{
					"type":        "string",
					"description": "The request's filename, e.g. 20250301T140501Z-add-weather.md",
				},
			},
			"required": []string{"filename"},
		},
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			return readRequest(store, args)
		},
	})
}

func createRequest(ctx context.Context, store *notes.Store, filer IssueFiler, args map[string]any) (string, error) {
	title := stringArg(args, "title")
	if title == "" {
		return ErrorPayload("title parameter is required"), nil
	}
	req := notes.Request{
		Title:       title,
		Description: stringArg(args, "description"),
		Nick:        NickFromContext(ctx),
		Channel:     ChannelFromContext(ctx),
	}

	created, err := store.Create(req)
	if errors.Is(err, notes.ErrLimitReached) {
		return mustJSON(map[string]any{
			"error": "Too many outstanding enhancement requests; ask a maintainer to review the existing ones first",
		}), nil
	}
	if err != nil {
		return "", err
	}

	out := map[string]any{
		"result":   "Enhancement request created",
		"filename": created.Filename,
		"title":    created.Title,
	}
	if created.Existing {
		out["result"] = "An identical enhancement request is already on file"
		return mustJSON(out), nil
	}

	if filer != nil {
		issue, _, err := filer.File(ctx, forge.Request{
			Title:       req.Title,
			Description: req.Description,
			Nick:        req.Nick,
			Channel:     req.Channel,
			Filename:    created.Filename,
		})
		if err != nil {
			// The local file is the record; the issue is a convenience.
			out["issue_error"] = err.Error()
		} else {
			out["issue_url"] = issue.URL
		}
	}
	return mustJSON(out), nil
}

type requestSummary struct {
	Filename string `json:"filename"`
	Title    string `json:"title"`
	Modified string `json:"modified"`
	Size     int64  `json:"size"`
	SizeText string `json:"size_human"`
}

func listRequests(store *notes.Store) (string, error) {
	list, err := store.List()
	if err != nil {
		return "", err
	}
	summaries := make([]requestSummary, len(list))
	for i, n := range list {
		summaries[i] = requestSummary{
			Filename: n.Filename,
			Title:    n.Title,
			Modified: n.Modified.Local().Format("2006-01-02 15:04"),
			Size:     n.Size,
			SizeText: humanize.Bytes(uint64(n.Size)),
		}
	}
	return mustJSON(map[string]any{
		"result":   fmt.Sprintf("%d enhancement requests", len(list)),
		"count":    len(list),
		"requests": summaries,
	}), nil
}

func readRequest(store *notes.Store, args map[string]any) (string, error) {
	name := stringArg(args, "filename")
	if name == "" {
		return ErrorPayload("filename parameter is required"), nil
	}
	c, err := store.Read(name)
	if errors.Is(err, notes.ErrInvalidName) {
		return ErrorPayload("invalid filename: use a .md name exactly as listed by list_enhancement_requests"), nil
	}
	if err != nil {
		return "", err
	}
	return mustJSON(c), nil
}
