package forge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Mirror files enhancement requests as issues in one repository.
type Mirror struct {
	gh     *GitHub
	repo   string
	labels []string
	logger *slog.Logger
}

// NewMirror returns a Mirror that opens issues in repo ("owner/name")
// tagged with labels.
func NewMirror(gh *GitHub, repo string, labels []string, logger *slog.Logger) (*Mirror, error) {
	if _, _, err := splitRepo(repo); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{gh: gh, repo: repo, labels: labels, logger: logger}, nil
}

// Request describes an enhancement request to mirror.
type Request struct {
	Title       string
	Description string
	Nick        string
	Channel     string
	Filename    string
}

// File opens an issue for req unless an open issue with the same title
// (case-insensitive) already exists, in which case that issue is
// returned and created is false.
func (m *Mirror) File(ctx context.Context, req Request) (issue *Issue, created bool, err error) {
	open, err := m.gh.OpenIssues(ctx, m.repo, m.labels)
	if err != nil {
		return nil, false, err
	}
	for _, is := range open {
		if strings.EqualFold(strings.TrimSpace(is.Title), strings.TrimSpace(req.Title)) {
			return is, false, nil
		}
	}

	issue, err = m.gh.CreateIssue(ctx, m.repo, &Issue{
		Title:  req.Title,
		Body:   issueBody(req),
		Labels: m.labels,
	})
	if err != nil {
		return nil, false, err
	}
	m.logger.Info("enhancement request mirrored",
		"repo", m.repo, "issue", issue.Number, "file", req.Filename)
	return issue, true, nil
}

func issueBody(req Request) string {
	var sb strings.Builder
	if d := strings.TrimSpace(req.Description); d != "" {
		sb.WriteString(d)
		sb.WriteString("\n\n---\n")
	}
	if req.Nick != "" {
		fmt.Fprintf(&sb, "Requested by `%s`", req.Nick)
		if req.Channel != "" {
			fmt.Fprintf(&sb, " in `%s`", req.Channel)
		}
		sb.WriteString(".\n")
	}
	if req.Filename != "" {
		fmt.Fprintf(&sb, "Local file: `%s`\n", req.Filename)
	}
	return sb.String()
}
