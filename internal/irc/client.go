package irc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sourcegraph/conc"

	"github.com/nugget/terrarium-irc/internal/config"
	"github.com/nugget/terrarium-irc/internal/events"
)

// levelTrace matches config.LevelTrace for raw protocol lines.
const levelTrace = slog.Level(-8)

const (
	sendQueueSize  = 256
	keepalive      = 2 * time.Minute
	reconnectFirst = 5 * time.Second
	reconnectMax   = 5 * time.Minute
	// A session that lasted this long resets the reconnect backoff.
	stableSession = time.Minute
)

// Handler receives every parsed message after the client's own
// bookkeeping. It runs on the read loop and must not block.
type Handler interface {
	HandleIRC(ctx context.Context, m *Message)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, m *Message)

// HandleIRC calls f.
func (f HandlerFunc) HandleIRC(ctx context.Context, m *Message) { f(ctx, m) }

// Client is a reconnecting IRC client. Outbound chat lines go through a
// queue drained at most one line per SendDelay.
type Client struct {
	cfg    config.IRCConfig
	dial   func(ctx context.Context) (Conn, error)
	logger *slog.Logger
	bus    *events.Bus

	handler Handler
	out     chan string

	mu        sync.RWMutex
	conn      Conn
	nick      string
	connected atomic.Bool
}

// NewClient creates a client for cfg. Call Run to connect.
func NewClient(cfg config.IRCConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		cfg:    cfg,
		logger: logger,
		out:    make(chan string, sendQueueSize),
		nick:   cfg.Nick,
	}
	c.dial = c.defaultDial
	return c
}

func (c *Client) defaultDial(ctx context.Context) (Conn, error) {
	if c.cfg.WebSocketURL != "" {
		return DialWebSocket(ctx, c.cfg.WebSocketURL)
	}
	return DialTCP(ctx, c.cfg.Address(), c.cfg.UseTLS, nil)
}

// SetHandler installs the message handler. Call before Run.
func (c *Client) SetHandler(h Handler) { c.handler = h }

// SetBus enables connection events.
func (c *Client) SetBus(b *events.Bus) { c.bus = b }

// Nick returns the nick the server knows us by.
func (c *Client) Nick() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nick
}

func (c *Client) setNick(n string) {
	c.mu.Lock()
	c.nick = n
	c.mu.Unlock()
}

// IsMe reports whether nick is the client's own nick.
func (c *Client) IsMe(nick string) bool {
	return Fold(nick) == Fold(c.Nick())
}

// Connected reports whether the server has welcomed us.
func (c *Client) Connected() bool { return c.connected.Load() }

// Say queues a PRIVMSG to target. It blocks only while the queue is
// full.
func (c *Client) Say(ctx context.Context, target, text string) error {
	return c.enqueue(ctx, (&Message{Command: "PRIVMSG", Params: []string{target, sanitize(text)}}).String())
}

// Join queues a JOIN for channel.
func (c *Client) Join(ctx context.Context, channel string) error {
	return c.enqueue(ctx, "JOIN "+sanitize(channel))
}

func (c *Client) enqueue(ctx context.Context, line string) error {
	select {
	case c.out <- line:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Quit sends QUIT immediately on the live connection.
func (c *Client) Quit(reason string) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return errors.New("not connected")
	}
	return conn.WriteLine((&Message{Command: "QUIT", Params: []string{sanitize(reason)}}).String())
}

// Run connects and reconnects until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	backoff := newReconnectBackoff()
	for {
		started := time.Now()
		err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(started) >= stableSession {
			backoff = newReconnectBackoff()
		}
		delay, _ := backoff.Next()

		c.logger.Warn("irc connection lost, reconnecting", "error", err, "delay", delay)
		data := map[string]any{"server": c.server()}
		if err != nil {
			data["error"] = err.Error()
		}
		c.bus.Emit(events.SourceIRC, events.KindDisconnected, data)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

func newReconnectBackoff() retry.Backoff {
	return retry.WithCappedDuration(reconnectMax, retry.NewExponential(reconnectFirst))
}

func (c *Client) server() string {
	if c.cfg.WebSocketURL != "" {
		return c.cfg.WebSocketURL
	}
	return c.cfg.Address()
}

// session runs one connection from dial to disconnect.
func (c *Client) session(ctx context.Context) error {
	c.logger.Info("connecting to irc", "server", c.server(), "tls", c.cfg.UseTLS, "websocket", c.cfg.WebSocketURL != "")
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.nick = c.cfg.Nick
	c.mu.Unlock()
	defer func() {
		c.connected.Store(false)
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()

	if n := c.dropStale(); n > 0 {
		c.logger.Info("dropped lines queued while disconnected", "lines", n)
	}
	if err := c.register(conn); err != nil {
		return fmt.Errorf("register: %w", err)
	}

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 2)
	var wg conc.WaitGroup
	wg.Go(func() { errc <- c.writeLoop(sessCtx, conn) })
	wg.Go(func() { errc <- c.readLoop(sessCtx, conn) })

	err = <-errc
	cancel()
	conn.Close()
	wg.Wait()
	return err
}

func (c *Client) dropStale() int {
	n := 0
	for {
		select {
		case <-c.out:
			n++
		default:
			return n
		}
	}
}

func (c *Client) register(conn Conn) error {
	username := c.cfg.Username
	if username == "" {
		username = c.cfg.Nick
	}
	realname := c.cfg.Realname
	if realname == "" {
		realname = "Terrarium IRC Bot"
	}
	var lines []string
	if c.cfg.Password != "" {
		lines = append(lines, "PASS "+sanitize(c.cfg.Password))
	}
	lines = append(lines,
		"NICK "+sanitize(c.cfg.Nick),
		(&Message{Command: "USER", Params: []string{sanitize(username), "0", "*", sanitize(realname)}}).String(),
	)
	for _, l := range lines {
		if err := conn.WriteLine(l); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) writeLoop(ctx context.Context, conn Conn) error {
	ping := time.NewTicker(keepalive)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ping.C:
			if err := conn.WriteLine("PING :keepalive"); err != nil {
				return err
			}
		case line := <-c.out:
			c.logger.Log(ctx, levelTrace, "irc send", "line", line)
			if err := conn.WriteLine(line); err != nil {
				return err
			}
			if c.cfg.SendDelay > 0 {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(c.cfg.SendDelay):
				}
			}
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn Conn) error {
	for {
		line, err := conn.ReadLine()
		if err != nil {
			if ctx.Err() != nil || isClosed(err) {
				return err
			}
			return fmt.Errorf("read: %w", err)
		}
		c.logger.Log(ctx, levelTrace, "irc recv", "line", line)
		m, err := ParseMessage(line)
		if err != nil {
			continue
		}
		if err := c.handle(ctx, conn, m); err != nil {
			return err
		}
	}
}

// handle does the client's own protocol bookkeeping, then passes the
// message on.
func (c *Client) handle(ctx context.Context, conn Conn, m *Message) error {
	switch m.Command {
	case "PING":
		if err := conn.WriteLine((&Message{Command: "PONG", Params: []string{m.Trailing()}}).String()); err != nil {
			return err
		}
		return nil
	case "ERROR":
		return fmt.Errorf("server error: %s", m.Trailing())
	case RplWelcome:
		if n := m.Param(0); n != "" {
			c.setNick(n)
		}
		c.connected.Store(true)
		c.logger.Info("irc registered", "server", c.server(), "nick", c.Nick())
		c.bus.Emit(events.SourceIRC, events.KindConnected, map[string]any{"server": c.server(), "nick": c.Nick()})
		for _, ch := range c.cfg.Channels {
			if err := c.Join(ctx, ch); err != nil {
				return err
			}
		}
	case ErrNicknameUsed:
		if !c.Connected() {
			next := c.Nick() + "_"
			c.logger.Warn("nick in use, trying another", "nick", next)
			c.setNick(next)
			if err := conn.WriteLine("NICK " + next); err != nil {
				return err
			}
		}
	case "NICK":
		if c.IsMe(m.Nick()) {
			c.setNick(m.Param(0))
		}
	case "JOIN":
		if c.IsMe(m.Nick()) {
			c.logger.Info("joined channel", "channel", m.Param(0))
			c.bus.Emit(events.SourceIRC, events.KindJoined, map[string]any{"channel": m.Param(0)})
		}
	}

	if c.handler != nil {
		c.handler.HandleIRC(ctx, m)
	}
	return nil
}

// splitTarget is used by callers that need the target of a PRIVMSG and
// whether it was sent to a channel.
func splitTarget(m *Message) (target string, isChannel bool) {
	target = m.Param(0)
	return target, IsChannel(target)
}

// trimCTCP returns the ACTION text of a CTCP ACTION, or ok=false.
func trimCTCP(text string) (action string, ok bool) {
	if !strings.HasPrefix(text, "\x01ACTION ") {
		return "", false
	}
	return strings.TrimSuffix(strings.TrimPrefix(text, "\x01ACTION "), "\x01"), true
}
