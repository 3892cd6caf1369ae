// Package forge mirrors enhancement requests to a GitHub repository as
// issues so they can be triaged alongside the code.
package forge

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gogithub "github.com/google/go-github/v69/github"
)

// Issue is the subset of a GitHub issue the bot cares about.
type Issue struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	State     string    `json:"state"`
	URL       string    `json:"url"`
	Labels    []string  `json:"labels,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// GitHub talks to the GitHub REST API through go-github.
type GitHub struct {
	client *gogithub.Client
	logger *slog.Logger
}

// NewGitHub creates a client authenticated with token. A non-empty
// baseURL selects a GitHub Enterprise server.
func NewGitHub(httpClient *http.Client, token, baseURL string, logger *slog.Logger) (*GitHub, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := gogithub.NewClient(httpClient).WithAuthToken(token)
	if baseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(baseURL, baseURL)
		if err != nil {
			return nil, fmt.Errorf("forge: enterprise url: %w", err)
		}
	}
	return &GitHub{client: client, logger: logger}, nil
}

// splitRepo splits "owner/repo".
func splitRepo(repo string) (string, string, error) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo %q: expected owner/repo", repo)
	}
	return parts[0], parts[1], nil
}

func (g *GitHub) checkRateLimit(resp *gogithub.Response) {
	if resp == nil {
		return
	}
	if resp.Rate.Remaining > 0 && resp.Rate.Remaining < 100 {
		g.logger.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset", resp.Rate.Reset.Time,
		)
	}
}

// CreateIssue opens a new issue.
func (g *GitHub) CreateIssue(ctx context.Context, repo string, issue *Issue) (*Issue, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	req := &gogithub.IssueRequest{
		Title: &issue.Title,
		Body:  &issue.Body,
	}
	if len(issue.Labels) > 0 {
		req.Labels = &issue.Labels
	}

	result, resp, err := g.client.Issues.Create(ctx, owner, name, req)
	if err != nil {
		return nil, fmt.Errorf("forge: create issue: %w", err)
	}
	g.checkRateLimit(resp)
	return convertIssue(result), nil
}

// OpenIssues lists open issues carrying every label in labels. Pull
// requests, which the issues endpoint also returns, are skipped.
func (g *GitHub) OpenIssues(ctx context.Context, repo string, labels []string) ([]*Issue, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	opts := &gogithub.IssueListByRepoOptions{
		State:       "open",
		Labels:      labels,
		ListOptions: gogithub.ListOptions{PerPage: 100},
	}

	results, resp, err := g.client.Issues.ListByRepo(ctx, owner, name, opts)
	if err != nil {
		return nil, fmt.Errorf("forge: list issues: %w", err)
	}
	g.checkRateLimit(resp)

	issues := make([]*Issue, 0, len(results))
	for _, r := range results {
		if r.IsPullRequest() {
			continue
		}
		issues = append(issues, convertIssue(r))
	}
	return issues, nil
}

func convertIssue(i *gogithub.Issue) *Issue {
	if i == nil {
		return nil
	}
	out := &Issue{
		Number:    i.GetNumber(),
		Title:     i.GetTitle(),
		Body:      i.GetBody(),
		State:     i.GetState(),
		URL:       i.GetHTMLURL(),
		CreatedAt: i.GetCreatedAt().Time,
	}
	for _, l := range i.Labels {
		out.Labels = append(out.Labels, l.GetName())
	}
	return out
}
