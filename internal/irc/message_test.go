package irc

import (
	"reflect"
	"testing"
)

func TestParseMessage(t *testing.T) {
	tests := []struct {
		line string
		want Message
	}{
		{"PING :irc.example.net", Message{Command: "PING", Params: []string{"irc.example.net"}}},
		{":alice!al@host.example PRIVMSG #terrarium :hello there\r\n",
			Message{Prefix: "alice!al@host.example", Command: "PRIVMSG", Params: []string{"#terrarium", "hello there"}}},
		{"@time=2025-03-01T14:02:00Z :bob!b@h JOIN #terrarium",
			Message{Tags: "time=2025-03-01T14:02:00Z", Prefix: "bob!b@h", Command: "JOIN", Params: []string{"#terrarium"}}},
		{":srv 353 Terra = #terrarium :@alice +bob carol",
			Message{Prefix: "srv", Command: "353", Params: []string{"Terra", "=", "#terrarium", "@alice +bob carol"}}},
		{"privmsg  #a   :x", Message{Command: "PRIVMSG", Params: []string{"#a", "x"}}},
		{":carol!c@h QUIT :", Message{Prefix: "carol!c@h", Command: "QUIT", Params: []string{""}}},
	}
	for _, tt := range tests {
		got, err := ParseMessage(tt.line)
		if err != nil {
			t.Errorf("ParseMessage(%q): %v", tt.line, err)
			continue
		}
		if !reflect.DeepEqual(*got, tt.want) {
			t.Errorf("ParseMessage(%q) = %+v, want %+v", tt.line, *got, tt.want)
		}
	}

	for _, bad := range []string{"", "  \r\n", ":prefix.only"} {
		if _, err := ParseMessage(bad); err == nil {
			t.Errorf("ParseMessage(%q) succeeded", bad)
		}
	}
}

func TestMessageString(t *testing.T) {
	tests := []struct {
		m    Message
		want string
	}{
		{Message{Command: "PRIVMSG", Params: []string{"#t", "hi there"}}, "PRIVMSG #t :hi there"},
		{Message{Command: "PONG", Params: []string{"abc"}}, "PONG abc"},
		{Message{Command: "PRIVMSG", Params: []string{"#t", ":)"}}, "PRIVMSG #t ::)"},
		{Message{Command: "QUIT", Params: []string{""}}, "QUIT :"},
		{Message{Prefix: "Terra", Command: "JOIN", Params: []string{"#t"}}, ":Terra JOIN #t"},
	}
	for _, tt := range tests {
		if got := tt.m.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestSplitPrefix(t *testing.T) {
	tests := []struct {
		prefix, nick, user, host string
	}{
		{"alice!al@host.example", "alice", "al", "host.example"},
		{"irc.example.net", "irc.example.net", "", ""},
		{"bob@host", "bob", "", "host"},
	}
	for _, tt := range tests {
		n, u, h := SplitPrefix(tt.prefix)
		if n != tt.nick || u != tt.user || h != tt.host {
			t.Errorf("SplitPrefix(%q) = %q, %q, %q", tt.prefix, n, u, h)
		}
	}
}

func TestFoldAndModes(t *testing.T) {
	if Fold("Terra[m]\\~") != "terra{m}|^" {
		t.Errorf("Fold = %q", Fold("Terra[m]\\~"))
	}
	for in, want := range map[string]string{"@alice": "alice", "+bob": "bob", "~&carol": "carol", "dave": "dave"} {
		if got := StripModes(in); got != want {
			t.Errorf("StripModes(%q) = %q", in, got)
		}
	}
	if !IsChannel("#terrarium") || !IsChannel("&local") || IsChannel("alice") || IsChannel("") {
		t.Error("IsChannel misclassified")
	}
}

func TestSanitize(t *testing.T) {
	if got := sanitize("one\r\ntwo\x00"); got != "one  two " {
		t.Errorf("sanitize = %q", got)
	}
}

func TestTrimCTCP(t *testing.T) {
	if a, ok := trimCTCP("\x01ACTION waves\x01"); !ok || a != "waves" {
		t.Errorf("trimCTCP = %q, %v", a, ok)
	}
	if _, ok := trimCTCP("plain"); ok {
		t.Error("plain text parsed as ACTION")
	}
}
