// Package commands parses "!name args" chat lines and runs the bot's
// commands. It knows nothing about the wire protocol; replies go out
// through a Responder supplied by the transport.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/sahilm/fuzzy"
)

// Request is one chat line that may hold a command.
type Request struct {
	Channel string
	Nick    string
	Text    string
	Time    time.Time
}

// Responder delivers command output.
type Responder interface {
	// Reply addresses lines to the requester. The first line is
	// prefixed with the nick, later ones are marked as continuations.
	Reply(ctx context.Context, lines ...string) error
	// Say sends lines as they are.
	Say(ctx context.Context, lines ...string) error
}

// Call is one command invocation.
type Call struct {
	Request
	Name   string
	Args   string
	Prefix string
	Out    Responder
}

// Command is a named chat command.
type Command struct {
	Name    string
	Usage   string // argument synopsis, e.g. "<question>"
	Summary string
	Run     func(ctx context.Context, call *Call) error
}

// Router maps command names to commands.
type Router struct {
	prefix   string
	commands map[string]*Command
	logger   *slog.Logger
}

// NewRouter creates a router for lines starting with prefix.
func NewRouter(prefix string, logger *slog.Logger) *Router {
	if prefix == "" {
		prefix = "!"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{prefix: prefix, commands: make(map[string]*Command), logger: logger}
}

// Prefix returns the command prefix.
func (r *Router) Prefix() string { return r.prefix }

// Register adds or replaces a command.
func (r *Router) Register(c *Command) {
	r.commands[strings.ToLower(c.Name)] = c
}

// Names returns the registered command names, sorted.
func (r *Router) Names() []string {
	names := make([]string, 0, len(r.commands))
	for n := range r.commands {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the named command.
func (r *Router) Lookup(name string) (*Command, bool) {
	c, ok := r.commands[strings.ToLower(name)]
	return c, ok
}

// Parse splits a command line into lowercase name and arguments.
func Parse(prefix, text string) (name, args string, ok bool) {
	if !strings.HasPrefix(text, prefix) {
		return "", "", false
	}
	rest := strings.TrimSpace(text[len(prefix):])
	if rest == "" {
		return "", "", false
	}
	name, args, _ = strings.Cut(rest, " ")
	return strings.ToLower(name), strings.TrimSpace(args), true
}

// IsCommand reports whether text starts with the command prefix.
func (r *Router) IsCommand(text string) bool {
	_, _, ok := Parse(r.prefix, text)
	return ok
}

// Dispatch runs the command in req.Text, if any. Unknown commands get a
// suggestion when one is close; otherwise they are ignored. It reports
// whether a command ran.
func (r *Router) Dispatch(ctx context.Context, req Request, out Responder) bool {
	name, args, ok := Parse(r.prefix, req.Text)
	if !ok {
		return false
	}
	cmd, ok := r.Lookup(name)
	if !ok {
		if s := r.suggest(name); s != "" {
			out.Reply(ctx, fmt.Sprintf("Unknown command %s%s. Did you mean %s%s?", r.prefix, name, r.prefix, s))
		}
		r.logger.Debug("unknown command", "command", name, "nick", req.Nick, "channel", req.Channel)
		return false
	}

	r.logger.Info("command", "command", name, "nick", req.Nick, "channel", req.Channel)
	call := &Call{Request: req, Name: name, Args: args, Prefix: r.prefix, Out: out}
	if err := cmd.Run(ctx, call); err != nil {
		r.logger.Error("command failed", "command", name, "channel", req.Channel, "error", err)
		out.Reply(ctx, "Error: "+err.Error())
	}
	return true
}

// suggest returns the closest command name to name, or "".
func (r *Router) suggest(name string) string {
	matches := fuzzy.Find(name, r.Names())
	if len(matches) == 0 {
		return ""
	}
	return matches[0].Str
}

// usage returns the usage line for a command.
func (r *Router) usage(c *Command) string {
	if c.Usage == "" {
		return r.prefix + c.Name
	}
	return r.prefix + c.Name + " " + c.Usage
}
