// Package irc is Terrarium's chat transport: an IRC client that speaks
// plain TCP, TLS or IRCv3 WebSocket, keeps its channels joined across
// reconnects and paces outbound lines to stay under flood limits.
package irc

import (
	"errors"
	"strings"
)

// Numeric replies the client reacts to.
const (
	RplWelcome      = "001"
	RplNamReply     = "353"
	RplEndOfNames   = "366"
	ErrNicknameUsed = "433"
)

// maxLineBytes is the RFC 1459 line limit including CRLF.
const maxLineBytes = 512

var errEmptyLine = errors.New("empty line")

// Message is one parsed IRC protocol line. Message tags are accepted
// and kept raw; nothing here interprets them.
type Message struct {
	Tags    string
	Prefix  string
	Command string
	Params  []string
}

// ParseMessage parses a single line without its trailing CRLF.
func ParseMessage(line string) (*Message, error) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return nil, errEmptyLine
	}

	m := &Message{}
	if strings.HasPrefix(line, "@") {
		tags, rest, _ := strings.Cut(line[1:], " ")
		m.Tags = tags
		line = strings.TrimLeft(rest, " ")
	}
	if strings.HasPrefix(line, ":") {
		prefix, rest, _ := strings.Cut(line[1:], " ")
		m.Prefix = prefix
		line = strings.TrimLeft(rest, " ")
	}

	for line != "" {
		if strings.HasPrefix(line, ":") {
			m.Params = append(m.Params, line[1:])
			break
		}
		var field string
		field, line, _ = strings.Cut(line, " ")
		line = strings.TrimLeft(line, " ")
		if m.Command == "" {
			m.Command = strings.ToUpper(field)
		} else {
			m.Params = append(m.Params, field)
		}
	}
	if m.Command == "" {
		return nil, errors.New("missing command")
	}
	return m, nil
}

// Param returns the i'th parameter or "".
func (m *Message) Param(i int) string {
	if i < 0 || i >= len(m.Params) {
		return ""
	}
	return m.Params[i]
}

// Trailing returns the last parameter or "".
func (m *Message) Trailing() string {
	return m.Param(len(m.Params) - 1)
}

// Nick returns the nick part of the prefix.
func (m *Message) Nick() string {
	nick, _, _ := SplitPrefix(m.Prefix)
	return nick
}

// String renders the message as a protocol line without CRLF. The last
// parameter is always sent as trailing when it needs to be.
func (m *Message) String() string {
	var sb strings.Builder
	if m.Prefix != "" {
		sb.WriteByte(':')
		sb.WriteString(m.Prefix)
		sb.WriteByte(' ')
	}
	sb.WriteString(m.Command)
	for i, p := range m.Params {
		sb.WriteByte(' ')
		last := i == len(m.Params)-1
		if last && (p == "" || strings.ContainsRune(p, ' ') || strings.HasPrefix(p, ":")) {
			sb.WriteByte(':')
		}
		sb.WriteString(p)
	}
	return sb.String()
}

// SplitPrefix splits "nick!user@host" into its parts. A server prefix
// comes back as the nick.
func SplitPrefix(prefix string) (nick, user, host string) {
	nick, rest, hasUser := strings.Cut(prefix, "!")
	if hasUser {
		user, host, _ = strings.Cut(rest, "@")
		return nick, user, host
	}
	nick, host, _ = strings.Cut(nick, "@")
	return nick, "", host
}

// IsChannel reports whether target names a channel.
func IsChannel(target string) bool {
	return target != "" && strings.ContainsRune("#&+!", rune(target[0]))
}

// Fold lowercases s using RFC 1459 case mapping, where []\~ are the
// uppercase forms of {}|^.
func Fold(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		case r == '[':
			return '{'
		case r == ']':
			return '}'
		case r == '\\':
			return '|'
		case r == '~':
			return '^'
		}
		return r
	}, s)
}

// StripModes removes channel membership prefixes such as @ and + from a
// NAMES entry.
func StripModes(name string) string {
	return strings.TrimLeft(name, "~&@%+")
}

// sanitize removes characters that would end or corrupt a protocol line.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\r' || r == '\n' || r == 0 {
			return ' '
		}
		return r
	}, s)
}
