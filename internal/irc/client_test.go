package irc

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/nugget/terrarium-irc/internal/config"
	"github.com/nugget/terrarium-irc/internal/events"
)

// fakeServer is the far end of a net.Pipe.
type fakeServer struct {
	t     *testing.T
	conn  net.Conn
	lines chan string
}

func newFakeServer(t *testing.T, conn net.Conn) *fakeServer {
	s := &fakeServer{t: t, conn: conn, lines: make(chan string, 64)}
	go func() {
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				close(s.lines)
				return
			}
			s.lines <- strings.TrimRight(line, "\r\n")
		}
	}()
	return s
}

func (s *fakeServer) send(line string) {
	s.t.Helper()
	if _, err := s.conn.Write([]byte(line + "\r\n")); err != nil {
		s.t.Fatalf("server write: %v", err)
	}
}

// expect waits for the next line the client sends that is not a
// keepalive.
func (s *fakeServer) expect(want string) {
	s.t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case got, ok := <-s.lines:
			if !ok {
				s.t.Fatalf("connection closed waiting for %q", want)
			}
			if strings.HasPrefix(got, "PING ") {
				continue
			}
			if got != want {
				s.t.Fatalf("client sent %q, want %q", got, want)
			}
			return
		case <-timeout:
			s.t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func startClient(t *testing.T, cfg config.IRCConfig, setup func(*Client)) (*Client, *fakeServer) {
	t.Helper()
	clientEnd, serverEnd := net.Pipe()
	dialed := false

	c := NewClient(cfg, nil)
	c.dial = func(ctx context.Context) (Conn, error) {
		if dialed {
			return nil, errors.New("no more connections")
		}
		dialed = true
		return newTCPConn(clientEnd), nil
	}
	if setup != nil {
		setup(c)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		serverEnd.Close()
		<-done
	})
	return c, newFakeServer(t, serverEnd)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestClient_RegisterAndJoin(t *testing.T) {
	bus := events.New()
	sub := bus.Subscribe(16)
	defer bus.Unsubscribe(sub)

	received := make(chan *Message, 16)
	cfg := config.IRCConfig{Nick: "Terra", Password: "secret", Channels: []string{"#terrarium", "#ops"}}
	c, srv := startClient(t, cfg, func(c *Client) {
		c.SetBus(bus)
		c.SetHandler(HandlerFunc(func(_ context.Context, m *Message) { received <- m }))
	})

	srv.expect("PASS secret")
	srv.expect("NICK Terra")
	srv.expect("USER Terra 0 * :Terrarium IRC Bot")
	if c.Connected() {
		t.Error("connected before welcome")
	}

	srv.send(":irc.example.net 001 Terra :Welcome to the network")
	srv.expect("JOIN #terrarium")
	srv.expect("JOIN #ops")
	if !c.Connected() {
		t.Error("not connected after welcome")
	}

	srv.send("PING :irc.example.net")
	srv.expect("PONG irc.example.net")

	srv.send(":Terra!terra@host JOIN #terrarium")
	var joined *Message
	for joined == nil {
		select {
		case m := <-received:
			if m.Command == "JOIN" {
				joined = m
			}
		case <-time.After(2 * time.Second):
			t.Fatal("handler never saw JOIN")
		}
	}

	var kinds []string
	deadline := time.After(2 * time.Second)
	for len(kinds) < 2 {
		select {
		case ev := <-sub:
			kinds = append(kinds, ev.Kind)
		case <-deadline:
			t.Fatalf("events = %v", kinds)
		}
	}
	if kinds[0] != events.KindConnected || kinds[1] != events.KindJoined {
		t.Errorf("events = %v", kinds)
	}
}

func TestClient_NickInUse(t *testing.T) {
	c, srv := startClient(t, config.IRCConfig{Nick: "Terra"}, nil)

	srv.expect("NICK Terra")
	srv.expect("USER Terra 0 * :Terrarium IRC Bot")
	srv.send(":irc.example.net 433 * Terra :Nickname is already in use")
	srv.expect("NICK Terra_")
	srv.send(":irc.example.net 001 Terra_ :Welcome")

	waitFor(t, c.Connected)
	if c.Nick() != "Terra_" || !c.IsMe("terra_") {
		t.Errorf("nick = %q", c.Nick())
	}

	srv.send(":Terra_!t@h NICK :Terra")
	srv.send("PING :sync")
	srv.expect("PONG sync")
	if c.Nick() != "Terra" {
		t.Errorf("nick after rename = %q", c.Nick())
	}
}

func TestClient_SayPaced(t *testing.T) {
	const delay = 60 * time.Millisecond
	c, srv := startClient(t, config.IRCConfig{Nick: "Terra", SendDelay: delay}, nil)
	srv.expect("NICK Terra")
	srv.expect("USER Terra 0 * :Terrarium IRC Bot")

	ctx := context.Background()
	if err := c.Say(ctx, "#terrarium", "first line"); err != nil {
		t.Fatal(err)
	}
	if err := c.Say(ctx, "#terrarium", "second\r\nline"); err != nil {
		t.Fatal(err)
	}

	srv.expect("PRIVMSG #terrarium :first line")
	start := time.Now()
	srv.expect("PRIVMSG #terrarium :second  line")
	if gap := time.Since(start); gap < delay/2 {
		t.Errorf("second line after %v, want about %v", gap, delay)
	}
}

func TestClient_ServerError(t *testing.T) {
	c, srv := startClient(t, config.IRCConfig{Nick: "Terra"}, nil)
	srv.expect("NICK Terra")
	srv.expect("USER Terra 0 * :Terrarium IRC Bot")
	srv.send(":irc.example.net 001 Terra :Welcome")
	waitFor(t, c.Connected)
	srv.send("ERROR :Closing link")
	waitFor(t, func() bool { return !c.Connected() })
}
