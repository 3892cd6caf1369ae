package transcript

import (
	"context"
	"strings"
	"time"
)

// SearchMode selects how a query's terms are combined.
type SearchMode string

// Search modes.
const (
	ModeAnd    SearchMode = "and"
	ModeOr     SearchMode = "or"
	ModePhrase SearchMode = "phrase"
)

// ClassifyQuery decides the search mode for a free-text query and
// returns the terms to match. A double-quoted query is a phrase, a
// query containing "+" matches any of its +-separated terms, and
// anything else must contain every whitespace-separated word.
func ClassifyQuery(query string) (SearchMode, []string) {
	q := strings.TrimSpace(query)
	if len(q) >= 2 && strings.HasPrefix(q, `"`) && strings.HasSuffix(q, `"`) {
		phrase := strings.TrimSpace(q[1 : len(q)-1])
		if phrase == "" {
			return ModePhrase, nil
		}
		return ModePhrase, []string{phrase}
	}
	if strings.Contains(q, "+") {
		var terms []string
		for _, t := range strings.Split(q, "+") {
			if t = strings.TrimSpace(t); t != "" {
				terms = append(terms, t)
			}
		}
		return ModeOr, terms
	}
	return ModeAnd, strings.Fields(q)
}

// SearchQuery filters a chat log search.
type SearchQuery struct {
	Query   string
	Channel string
	Nick    string
	Hours   int
	Limit   int
}

// Search returns chat lines matching q, oldest first, along with the
// mode the query was classified as. Only PRIVMSG lines are searched.
func (s *Store) Search(ctx context.Context, q SearchQuery) ([]Event, SearchMode, error) {
	mode, terms := ClassifyQuery(q.Query)
	if len(terms) == 0 {
		return nil, mode, nil
	}
	if q.Limit <= 0 {
		q.Limit = 100
	}

	joiner := " AND "
	if mode == ModeOr {
		joiner = " OR "
	}
	conds := make([]string, len(terms))
	args := make([]any, 0, len(terms)+5)
	for i, t := range terms {
		conds[i] = `message LIKE ? ESCAPE '\'`
		args = append(args, "%"+escapeLike(t)+"%")
	}

	sql := `SELECT id, timestamp, channel, nick, user, host, message, message_type
		FROM messages WHERE (` + strings.Join(conds, joiner) + `)`
	if q.Channel != "" {
		sql += " AND channel = ?"
		args = append(args, q.Channel)
	}
	if q.Nick != "" {
		sql += " AND nick = ?"
		args = append(args, q.Nick)
	}
	if q.Hours > 0 {
		sql += " AND timestamp > ?"
		args = append(args, formatTime(s.now().Add(-time.Duration(q.Hours)*time.Hour)))
	}
	sql += " AND message_type IN ('PRIVMSG') ORDER BY timestamp DESC, id DESC LIMIT ?"
	args = append(args, q.Limit)

	events, err := s.queryEvents(ctx, sql, args...)
	return events, mode, err
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
