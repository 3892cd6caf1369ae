package commands

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/nugget/terrarium-irc/internal/agent"
	"github.com/nugget/terrarium-irc/internal/notes"
	"github.com/nugget/terrarium-irc/internal/prompts"
	"github.com/nugget/terrarium-irc/internal/transcript"
	"github.com/nugget/terrarium-irc/internal/usage"
)

// Agent is the conversational core. [agent.Orchestrator] implements it.
type Agent interface {
	Handle(ctx context.Context, req agent.Request, notify func(string)) (agent.Reply, error)
	Ask(ctx context.Context, channel, question string) (agent.Reply, error)
	Clear(ctx context.Context, channel string) error
}

// ChatLog is the slice of the transcript store the commands read.
type ChatLog interface {
	Search(ctx context.Context, q transcript.SearchQuery) ([]transcript.Event, transcript.SearchMode, error)
	Members(ctx context.Context, channel string) ([]string, error)
	ChannelStats(ctx context.Context, channel string) (transcript.Stats, error)
}

// NoteLister lists enhancement requests.
type NoteLister interface {
	List() ([]notes.Note, error)
}

// UsageReader reports today's token usage.
type UsageReader interface {
	Today(ctx context.Context) (usage.Summary, error)
}

// Health reports model endpoint reachability.
type Health interface {
	IsReady() bool
}

// Deps are the collaborators of the built-in commands. Agent and Log
// are required; the rest may be nil.
type Deps struct {
	Agent  Agent
	Log    ChatLog
	Notes  NoteLister
	Usage  UsageReader
	Health Health
}

const (
	searchLimit   = 10
	searchShown   = 5
	previewLength = 80
	whoShown      = 50
	notesShown    = 5
)

// RegisterBuiltins adds the standard command set to r.
func RegisterBuiltins(r *Router, d Deps) {
	b := &builtins{r: r, d: d}
	for _, c := range []*Command{
		{Name: "help", Usage: "[command]", Summary: "Show available commands or get help for a specific command", Run: b.help},
		{Name: "ping", Summary: "Check if the bot is responsive", Run: b.ping},
		{Name: "ask", Usage: "<question>", Summary: "Ask the LLM a question without IRC context", Run: b.ask},
		{Name: "terrarium", Usage: "<question>", Summary: "Ask the LLM with full IRC channel context", Run: b.terrarium},
		{Name: "search", Usage: "[user:nick] [hours:N] <query>", Summary: `Search message history: word1 word2 (AND), word1+word2 (OR), "exact phrase"`, Run: b.search},
		{Name: "stats", Summary: "Show channel statistics (messages, users, tokens)", Run: b.stats},
		{Name: "who", Summary: "Show users currently in the channel", Run: b.who},
		{Name: "clear", Summary: "Forget this channel's conversation with the bot", Run: b.clear},
	} {
		r.Register(c)
	}
	if d.Notes != nil {
		r.Register(&Command{Name: "notes", Summary: "List filed enhancement requests", Run: b.notes})
	}
}

type builtins struct {
	r *Router
	d Deps
}

func (b *builtins) help(ctx context.Context, c *Call) error {
	if c.Args != "" {
		name := strings.ToLower(strings.TrimPrefix(strings.Fields(c.Args)[0], c.Prefix))
		if cmd, ok := b.r.Lookup(name); ok {
			return c.Out.Reply(ctx, fmt.Sprintf("%s - %s", b.r.usage(cmd), cmd.Summary))
		}
		msg := fmt.Sprintf("Unknown command '%s'. Try %shelp for available commands.", name, c.Prefix)
		if s := b.r.suggest(name); s != "" {
			msg = fmt.Sprintf("Unknown command '%s'. Did you mean %s%s?", name, c.Prefix, s)
		}
		return c.Out.Reply(ctx, msg)
	}

	names := b.r.Names()
	for i, n := range names {
		names[i] = c.Prefix + n
	}
	return c.Out.Reply(ctx, "Available commands: "+strings.Join(names, ", "))
}

func (b *builtins) ping(ctx context.Context, c *Call) error {
	if b.d.Health != nil && !b.d.Health.IsReady() {
		return c.Out.Reply(ctx, "pong! (but my model endpoint is unreachable)")
	}
	return c.Out.Reply(ctx, "pong!")
}

func (b *builtins) ask(ctx context.Context, c *Call) error {
	if c.Args == "" {
		return c.Out.Reply(ctx, "Usage: "+c.Prefix+"ask <question>")
	}
	c.Out.Reply(ctx, prompts.ThinkingNotice)
	rep, err := b.d.Agent.Ask(ctx, c.Channel, c.Args)
	if err != nil {
		b.r.logger.Warn("ask failed", "channel", c.Channel, "nick", c.Nick, "error", err)
	}
	return c.Out.Reply(ctx, rep.Chunks...)
}

func (b *builtins) terrarium(ctx context.Context, c *Call) error {
	if c.Args == "" {
		return c.Out.Reply(ctx, "Usage: "+c.Prefix+"terrarium <question>")
	}
	c.Out.Reply(ctx, prompts.ThinkingNotice)
	rep, err := b.d.Agent.Handle(ctx, agent.Request{
		Channel: c.Channel,
		Nick:    c.Nick,
		Text:    c.Args,
		Time:    c.Time,
	}, func(notice string) {
		c.Out.Reply(ctx, notice)
	})
	if err != nil {
		b.r.logger.Warn("agent request failed", "channel", c.Channel, "nick", c.Nick, "error", err)
	}
	return c.Out.Reply(ctx, rep.Chunks...)
}

var (
	userFilter  = regexp.MustCompile(`(?:^|\s)user:(\S+)`)
	hoursFilter = regexp.MustCompile(`(?:^|\s)hours:(\d+)`)
)

// searchArgs is a parsed !search argument string.
type searchArgs struct {
	Query string
	User  string
	Hours int
}

func parseSearchArgs(args string) searchArgs {
	var sa searchArgs
	if m := userFilter.FindStringSubmatchIndex(args); m != nil {
		sa.User = args[m[2]:m[3]]
		args = args[:m[0]] + " " + args[m[1]:]
	}
	if m := hoursFilter.FindStringSubmatchIndex(args); m != nil {
		sa.Hours, _ = strconv.Atoi(args[m[2]:m[3]])
		args = args[:m[0]] + " " + args[m[1]:]
	}
	sa.Query = strings.Join(strings.Fields(args), " ")
	return sa
}

func (b *builtins) search(ctx context.Context, c *Call) error {
	if c.Args == "" {
		c.Out.Reply(ctx, "Usage: "+c.Prefix+"search [user:nick] [hours:N] <query>")
		return c.Out.Say(ctx, `Query modes: word1 word2 (AND), word1+word2 (OR), "exact phrase"`)
	}
	sa := parseSearchArgs(c.Args)
	if sa.Query == "" {
		return c.Out.Reply(ctx, "Please provide a search query")
	}

	results, mode, err := b.d.Log.Search(ctx, transcript.SearchQuery{
		Query:   sa.Query,
		Channel: c.Channel,
		Nick:    sa.User,
		Hours:   sa.Hours,
		Limit:   searchLimit,
	})
	if err != nil {
		return err
	}

	shown := sa.Query
	var filters []string
	if sa.User != "" {
		filters = append(filters, "user:"+sa.User)
	}
	if sa.Hours > 0 {
		filters = append(filters, fmt.Sprintf("last %dh", sa.Hours))
	}
	switch mode {
	case transcript.ModeOr:
		filters = append(filters, "OR mode")
	case transcript.ModePhrase:
		filters = append(filters, "exact phrase")
		shown = strings.Trim(shown, `"`)
	}
	desc := ""
	if len(filters) > 0 {
		desc = " (" + strings.Join(filters, ", ") + ")"
	}

	if len(results) == 0 {
		return c.Out.Reply(ctx, fmt.Sprintf("No messages found for '%s'%s", shown, desc))
	}

	lines := make([]string, 0, searchShown+1)
	for i, e := range results {
		if i == searchShown {
			break
		}
		lines = append(lines, fmt.Sprintf("[%s] <%s> %s", e.Timestamp.Local().Format("2006-01-02 15:04"), e.Nick, preview(e.Message)))
	}
	if len(results) > searchShown {
		lines = append(lines, fmt.Sprintf("... and %d more results", len(results)-searchShown))
	}
	if err := c.Out.Reply(ctx, fmt.Sprintf("Found %d messages for '%s'%s:", len(results), shown, desc)); err != nil {
		return err
	}
	return c.Out.Say(ctx, lines...)
}

func preview(s string) string {
	r := []rune(s)
	if len(r) <= previewLength {
		return s
	}
	return string(r[:previewLength]) + "..."
}

func (b *builtins) stats(ctx context.Context, c *Call) error {
	st, err := b.d.Log.ChannelStats(ctx, c.Channel)
	if err != nil {
		return err
	}
	lines := []string{
		fmt.Sprintf("Total messages: %s", humanize.Comma(int64(st.TotalMessages))),
		fmt.Sprintf("Unique users: %s", humanize.Comma(int64(st.UniqueUsers))),
	}
	if !st.FirstMessage.IsZero() {
		lines = append(lines, fmt.Sprintf("First logged: %s (%s)",
			st.FirstMessage.Local().Format("2006-01-02 15:04"), humanize.Time(st.FirstMessage)))
	}
	if b.d.Usage != nil {
		sum, err := b.d.Usage.Today(ctx)
		if err != nil {
			b.r.logger.Warn("usage summary unavailable", "error", err)
		} else {
			lines = append(lines, fmt.Sprintf("Model tokens today: %s in, %s out over %s calls",
				humanize.Comma(sum.TotalInputTokens), humanize.Comma(sum.TotalOutputTokens), humanize.Comma(int64(sum.Calls))))
		}
	}
	if err := c.Out.Reply(ctx, "Channel statistics for "+c.Channel+":"); err != nil {
		return err
	}
	return c.Out.Say(ctx, lines...)
}

func (b *builtins) who(ctx context.Context, c *Call) error {
	users, err := b.d.Log.Members(ctx, c.Channel)
	if err != nil {
		return err
	}
	switch n := len(users); {
	case n == 0:
		return c.Out.Reply(ctx, "No users tracked for "+c.Channel+" yet")
	case n <= whoShown:
		return c.Out.Reply(ctx, fmt.Sprintf("%d users in %s: %s", n, c.Channel, strings.Join(users, ", ")))
	default:
		return c.Out.Reply(ctx, fmt.Sprintf("%d users in %s (showing first %d): %s", n, c.Channel, whoShown, strings.Join(users[:whoShown], ", ")))
	}
}

func (b *builtins) clear(ctx context.Context, c *Call) error {
	if err := b.d.Agent.Clear(ctx, c.Channel); err != nil {
		return err
	}
	return c.Out.Reply(ctx, "Conversation memory for "+c.Channel+" cleared.")
}

func (b *builtins) notes(ctx context.Context, c *Call) error {
	list, err := b.d.Notes.List()
	if err != nil {
		return err
	}
	if len(list) == 0 {
		return c.Out.Reply(ctx, "No enhancement requests on file.")
	}
	lines := make([]string, 0, notesShown+1)
	for i, n := range list {
		if i == notesShown {
			lines = append(lines, fmt.Sprintf("... and %d more", len(list)-notesShown))
			break
		}
		lines = append(lines, fmt.Sprintf("%s: %s (%s, %s)", n.Filename, n.Title, humanize.Bytes(uint64(n.Size)), humanize.Time(n.Modified)))
	}
	if err := c.Out.Reply(ctx, fmt.Sprintf("%d enhancement requests on file:", len(list))); err != nil {
		return err
	}
	return c.Out.Say(ctx, lines...)
}
