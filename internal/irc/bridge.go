package irc

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/nugget/terrarium-irc/internal/commands"
	"github.com/nugget/terrarium-irc/internal/transcript"
)

// handleTimeout bounds how long one command may run, model calls and
// reply delivery included.
const handleTimeout = 5 * time.Minute

// rateWindow is the sliding window for per-nick rate limiting.
const rateWindow = time.Minute

// cleanupInterval controls how often stale rate-limit entries are
// evicted.
const cleanupInterval = 10 * time.Minute

// Sender is the part of the client the bridge talks back through.
// [*Client] implements it.
type Sender interface {
	Say(ctx context.Context, target, text string) error
	IsMe(nick string) bool
}

// EventLog records channel activity and membership.
// [*transcript.Store] implements it.
type EventLog interface {
	LogEvent(ctx context.Context, e transcript.Event) error
	AddMember(ctx context.Context, channel, nick string) error
	RemoveMember(ctx context.Context, channel, nick string) error
	RemoveEverywhere(ctx context.Context, nick string) ([]string, error)
	RenameMember(ctx context.Context, oldNick, newNick string) ([]string, error)
	ResetRoster(ctx context.Context, channel string) error
}

// Dispatcher runs chat commands. [*commands.Router] implements it.
type Dispatcher interface {
	IsCommand(text string) bool
	Dispatch(ctx context.Context, req commands.Request, out commands.Responder) bool
}

// BridgeConfig holds the dependencies for a Bridge.
type BridgeConfig struct {
	Client    Sender
	Log       EventLog
	Commands  Dispatcher
	Logger    *slog.Logger
	RateLimit int // commands per nick per minute; 0 = unlimited
}

// Bridge turns protocol traffic into transcript events, roster updates
// and command dispatches. Commands run off the read loop so a slow
// model call never stalls the connection.
type Bridge struct {
	client    Sender
	log       EventLog
	commands  Dispatcher
	logger    *slog.Logger
	rateLimit int
	now       func() time.Time

	wg conc.WaitGroup

	mu          sync.Mutex
	senderTimes map[string][]time.Time
	lastCleanup time.Time
}

// NewBridge creates a bridge. Install it with [Client.SetHandler].
func NewBridge(cfg BridgeConfig) *Bridge {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		client:      cfg.Client,
		log:         cfg.Log,
		commands:    cfg.Commands,
		logger:      logger,
		rateLimit:   cfg.RateLimit,
		now:         time.Now,
		senderTimes: make(map[string][]time.Time),
	}
}

// HandleIRC implements [Handler].
func (b *Bridge) HandleIRC(ctx context.Context, m *Message) {
	nick, user, host := SplitPrefix(m.Prefix)

	switch m.Command {
	case "PRIVMSG", "NOTICE":
		b.handleText(ctx, m, nick, user, host)

	case "JOIN":
		channel := m.Param(0)
		if b.client.IsMe(nick) {
			// NAMES follows our own join and repopulates the roster.
			b.warn(b.log.ResetRoster(ctx, channel), "reset roster", "channel", channel)
			return
		}
		b.warn(b.log.AddMember(ctx, channel, nick), "add member", "channel", channel, "nick", nick)
		b.logEvent(ctx, transcript.Event{Channel: channel, Nick: nick, User: user, Host: host, Type: transcript.EventJoin})

	case "PART":
		channel := m.Param(0)
		if b.client.IsMe(nick) {
			return
		}
		b.warn(b.log.RemoveMember(ctx, channel, nick), "remove member", "channel", channel, "nick", nick)
		b.logEvent(ctx, transcript.Event{Channel: channel, Nick: nick, User: user, Host: host, Message: m.Param(1), Type: transcript.EventPart})

	case "KICK":
		channel, victim := m.Param(0), m.Param(1)
		b.warn(b.log.RemoveMember(ctx, channel, victim), "remove member", "channel", channel, "nick", victim)
		reason := "kicked by " + nick
		if r := m.Param(2); r != "" {
			reason += ": " + r
		}
		b.logEvent(ctx, transcript.Event{Channel: channel, Nick: victim, Message: reason, Type: transcript.EventPart})

	case "QUIT":
		channels, err := b.log.RemoveEverywhere(ctx, nick)
		b.warn(err, "remove member everywhere", "nick", nick)
		for _, ch := range channels {
			b.logEvent(ctx, transcript.Event{Channel: ch, Nick: nick, User: user, Host: host, Message: m.Param(0), Type: transcript.EventQuit})
		}

	case "NICK":
		newNick := m.Param(0)
		channels, err := b.log.RenameMember(ctx, nick, newNick)
		b.warn(err, "rename member", "from", nick, "to", newNick)
		for _, ch := range channels {
			b.logEvent(ctx, transcript.Event{Channel: ch, Nick: nick, User: user, Host: host, Message: newNick, Type: transcript.EventNick})
		}

	case RplNamReply:
		channel := m.Param(2)
		for _, name := range strings.Fields(m.Trailing()) {
			n := StripModes(name)
			b.warn(b.log.AddMember(ctx, channel, n), "add member", "channel", channel, "nick", n)
		}
	}
}

func (b *Bridge) handleText(ctx context.Context, m *Message, nick, user, host string) {
	if nick == "" || b.client.IsMe(nick) {
		return
	}
	target, toChannel := splitTarget(m)
	text := m.Param(1)

	typ := transcript.EventMessage
	if m.Command == "NOTICE" {
		typ = transcript.EventNotice
	} else if action, ok := trimCTCP(text); ok {
		typ = transcript.EventAction
		text = action
	}

	if toChannel {
		b.logEvent(ctx, transcript.Event{Channel: target, Nick: nick, User: user, Host: host, Message: text, Type: typ})
	}

	// NOTICE must never trigger an automatic reply.
	if typ != transcript.EventMessage || b.commands == nil || !b.commands.IsCommand(text) {
		return
	}
	if !b.allowSender(Fold(nick)) {
		b.logger.Warn("irc command rate-limited", "nick", nick, "target", target)
		return
	}

	req := commands.Request{Channel: target, Nick: nick, Text: text, Time: b.now()}
	out := &responder{client: b.client, target: target, nick: nick}
	if !toChannel {
		// Private messages answer to the sender and keep one
		// conversation per nick.
		req.Channel = nick
		out.target = nick
		out.nick = ""
	}
	b.dispatch(ctx, req, out)
}

func (b *Bridge) dispatch(ctx context.Context, req commands.Request, out commands.Responder) {
	b.wg.Go(func() {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), handleTimeout)
		defer cancel()

		var pc panics.Catcher
		pc.Try(func() { b.commands.Dispatch(runCtx, req, out) })
		if r := pc.Recovered(); r != nil {
			b.logger.Error("command panicked", "channel", req.Channel, "nick", req.Nick, "panic", r.Value, "stack", string(r.Stack))
		}
	})
}

// Wait blocks until in-flight commands finish or ctx is done.
func (b *Bridge) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for commands: %w", ctx.Err())
	}
}

func (b *Bridge) logEvent(ctx context.Context, e transcript.Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = b.now()
	}
	b.warn(b.log.LogEvent(ctx, e), "log event", "channel", e.Channel, "type", e.Type)
}

func (b *Bridge) warn(err error, what string, args ...any) {
	if err == nil {
		return
	}
	b.logger.Warn(what+" failed", append(args, "error", err)...)
}

// allowSender checks whether nick is within the per-minute rate limit.
func (b *Bridge) allowSender(nick string) bool {
	if b.rateLimit <= 0 {
		return true
	}

	now := b.now()
	cutoff := now.Add(-rateWindow)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeCleanupLocked(now)

	times := b.senderTimes[nick]
	valid := times[:0]
	for _, ts := range times {
		if ts.After(cutoff) {
			valid = append(valid, ts)
		}
	}

	if len(valid) >= b.rateLimit {
		b.senderTimes[nick] = valid
		return false
	}

	b.senderTimes[nick] = append(valid, now)
	return true
}

// maybeCleanupLocked evicts stale nicks. Must be called with b.mu held.
func (b *Bridge) maybeCleanupLocked(now time.Time) {
	if now.Sub(b.lastCleanup) < cleanupInterval {
		return
	}
	b.lastCleanup = now

	cutoff := now.Add(-2 * rateWindow)
	for nick, times := range b.senderTimes {
		if len(times) == 0 || times[len(times)-1].Before(cutoff) {
			delete(b.senderTimes, nick)
		}
	}
}

// responder sends command output to one target.
type responder struct {
	client Sender
	target string
	nick   string // addressed on the first Reply line; empty in queries
}

func (r *responder) Reply(ctx context.Context, lines ...string) error {
	for i, l := range lines {
		switch {
		case i > 0:
			l = "... " + l
		case r.nick != "":
			l = r.nick + ": " + l
		}
		if err := r.client.Say(ctx, r.target, l); err != nil {
			return err
		}
	}
	return nil
}

func (r *responder) Say(ctx context.Context, lines ...string) error {
	for _, l := range lines {
		if err := r.client.Say(ctx, r.target, l); err != nil {
			return err
		}
	}
	return nil
}
