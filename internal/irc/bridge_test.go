package irc

import (
	"context"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/nugget/terrarium-irc/internal/commands"
	"github.com/nugget/terrarium-irc/internal/transcript"
)

type fakeSender struct {
	mu   sync.Mutex
	nick string
	said []string
}

func (s *fakeSender) Say(_ context.Context, target, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.said = append(s.said, target+" "+text)
	return nil
}

func (s *fakeSender) IsMe(nick string) bool { return Fold(nick) == Fold(s.nick) }

func (s *fakeSender) lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.said)
}

// fakeLog keeps an in-memory roster and event list.
type fakeLog struct {
	mu     sync.Mutex
	events []transcript.Event
	roster map[string]map[string]bool
	resets []string
}

func newFakeLog() *fakeLog { return &fakeLog{roster: make(map[string]map[string]bool)} }

func (l *fakeLog) LogEvent(_ context.Context, e transcript.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *fakeLog) AddMember(_ context.Context, channel, nick string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.roster[channel] == nil {
		l.roster[channel] = make(map[string]bool)
	}
	l.roster[channel][nick] = true
	return nil
}

func (l *fakeLog) RemoveMember(_ context.Context, channel, nick string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.roster[channel], nick)
	return nil
}

func (l *fakeLog) RemoveEverywhere(_ context.Context, nick string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var chans []string
	for ch, members := range l.roster {
		if members[nick] {
			delete(members, nick)
			chans = append(chans, ch)
		}
	}
	sort.Strings(chans)
	return chans, nil
}

func (l *fakeLog) RenameMember(_ context.Context, oldNick, newNick string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var chans []string
	for ch, members := range l.roster {
		if members[oldNick] {
			delete(members, oldNick)
			members[newNick] = true
			chans = append(chans, ch)
		}
	}
	sort.Strings(chans)
	return chans, nil
}

func (l *fakeLog) ResetRoster(_ context.Context, channel string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resets = append(l.resets, channel)
	delete(l.roster, channel)
	return nil
}

func (l *fakeLog) members(channel string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for n := range l.roster[channel] {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// echoDispatcher replies with the command text, or panics on "!boom".
type echoDispatcher struct {
	mu   sync.Mutex
	reqs []commands.Request
}

func (d *echoDispatcher) IsCommand(text string) bool {
	_, _, ok := commands.Parse("!", text)
	return ok
}

func (d *echoDispatcher) Dispatch(ctx context.Context, req commands.Request, out commands.Responder) bool {
	d.mu.Lock()
	d.reqs = append(d.reqs, req)
	d.mu.Unlock()
	if req.Text == "!boom" {
		panic("kaboom")
	}
	out.Reply(ctx, "got "+req.Text, "second line")
	out.Say(ctx, "plain")
	return true
}

func newTestBridge(limit int) (*Bridge, *fakeSender, *fakeLog, *echoDispatcher) {
	s := &fakeSender{nick: "Terra"}
	l := newFakeLog()
	d := &echoDispatcher{}
	b := NewBridge(BridgeConfig{Client: s, Log: l, Commands: d, RateLimit: limit})
	return b, s, l, d
}

func feed(t *testing.T, b *Bridge, lines ...string) {
	t.Helper()
	for _, line := range lines {
		m, err := ParseMessage(line)
		if err != nil {
			t.Fatalf("parse %q: %v", line, err)
		}
		b.HandleIRC(context.Background(), m)
	}
}

func waitBridge(t *testing.T, b *Bridge) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.Wait(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestBridge_Roster(t *testing.T) {
	b, _, l, _ := newTestBridge(0)
	feed(t, b,
		":Terra!t@h JOIN #terrarium",
		":srv 353 Terra = #terrarium :@alice +bob Terra",
		":carol!c@h JOIN #terrarium",
		":bob!b@h PART #terrarium :later",
		":alice!a@h NICK alicia",
		":alicia!a@h KICK #terrarium carol :spam",
	)
	if got := l.members("#terrarium"); !slices.Equal(got, []string{"Terra", "alicia"}) {
		t.Errorf("roster = %v", got)
	}
	if !slices.Equal(l.resets, []string{"#terrarium"}) {
		t.Errorf("resets = %v", l.resets)
	}

	feed(t, b, ":alicia!a@h QUIT :bye")
	if got := l.members("#terrarium"); !slices.Equal(got, []string{"Terra"}) {
		t.Errorf("roster after quit = %v", got)
	}

	var got []string
	for _, e := range l.events {
		got = append(got, string(e.Type)+" "+e.Nick+" "+e.Message)
	}
	want := []string{
		"JOIN carol ",
		"PART bob later",
		"NICK alice alicia",
		"PART carol kicked by alicia: spam",
		"QUIT alicia bye",
	}
	if !slices.Equal(got, want) {
		t.Errorf("events =\n%q\nwant\n%q", got, want)
	}
	for _, e := range l.events {
		if e.Channel != "#terrarium" || e.Timestamp.IsZero() {
			t.Errorf("event %+v lacks channel or time", e)
		}
	}
}

func TestBridge_LogsChat(t *testing.T) {
	b, s, l, d := newTestBridge(0)
	feed(t, b,
		":alice!al@host PRIVMSG #terrarium :docker compose is great",
		":alice!al@host PRIVMSG #terrarium :\x01ACTION waves\x01",
		":bob!b@h NOTICE #terrarium :!ping",
		":Terra!t@h PRIVMSG #terrarium :my own line",
		":bob!b@h PRIVMSG Terra :private hello",
	)
	waitBridge(t, b)

	if len(l.events) != 3 {
		t.Fatalf("events = %+v", l.events)
	}
	first := l.events[0]
	if first.Type != transcript.EventMessage || first.User != "al" || first.Host != "host" || first.Message != "docker compose is great" {
		t.Errorf("message event = %+v", first)
	}
	if l.events[1].Type != transcript.EventAction || l.events[1].Message != "waves" {
		t.Errorf("action event = %+v", l.events[1])
	}
	if l.events[2].Type != transcript.EventNotice {
		t.Errorf("notice event = %+v", l.events[2])
	}
	if len(d.reqs) != 0 || len(s.lines()) != 0 {
		t.Errorf("notice or chat triggered a reply: %v", s.lines())
	}
}

func TestBridge_DispatchChannel(t *testing.T) {
	b, s, _, d := newTestBridge(0)
	feed(t, b, ":alice!a@h PRIVMSG #terrarium :!terrarium hi")
	waitBridge(t, b)

	if len(d.reqs) != 1 || d.reqs[0].Channel != "#terrarium" || d.reqs[0].Nick != "alice" || d.reqs[0].Time.IsZero() {
		t.Fatalf("requests = %+v", d.reqs)
	}
	want := []string{
		"#terrarium alice: got !terrarium hi",
		"#terrarium ... second line",
		"#terrarium plain",
	}
	if got := s.lines(); !slices.Equal(got, want) {
		t.Errorf("said = %q", got)
	}
}

func TestBridge_DispatchPrivate(t *testing.T) {
	b, s, l, d := newTestBridge(0)
	feed(t, b, ":alice!a@h PRIVMSG Terra :!ask hello")
	waitBridge(t, b)

	if len(l.events) != 0 {
		t.Errorf("private message logged: %+v", l.events)
	}
	if len(d.reqs) != 1 || d.reqs[0].Channel != "alice" {
		t.Fatalf("requests = %+v", d.reqs)
	}
	if got := s.lines(); len(got) == 0 || got[0] != "alice got !ask hello" {
		t.Errorf("said = %q", got)
	}
}

func TestBridge_RateLimit(t *testing.T) {
	b, _, _, d := newTestBridge(2)
	now := time.Date(2025, 3, 1, 14, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	feed(t, b,
		":alice!a@h PRIVMSG #terrarium :!ping",
		":Alice!a@h PRIVMSG #terrarium :!ping",
		":alice!a@h PRIVMSG #terrarium :!ping",
		":bob!b@h PRIVMSG #terrarium :!ping",
	)
	waitBridge(t, b)
	if len(d.reqs) != 3 {
		t.Errorf("dispatched %d, want 3", len(d.reqs))
	}

	now = now.Add(rateWindow + time.Second)
	feed(t, b, ":alice!a@h PRIVMSG #terrarium :!ping")
	waitBridge(t, b)
	if len(d.reqs) != 4 {
		t.Errorf("dispatched %d after window, want 4", len(d.reqs))
	}
}

func TestBridge_PanicContained(t *testing.T) {
	b, s, _, d := newTestBridge(0)
	feed(t, b,
		":alice!a@h PRIVMSG #terrarium :!boom",
		":bob!b@h PRIVMSG #terrarium :!ping",
	)
	waitBridge(t, b)
	if len(d.reqs) != 2 {
		t.Fatalf("requests = %d", len(d.reqs))
	}
	if len(s.lines()) != 3 {
		t.Errorf("said = %q", s.lines())
	}
}
