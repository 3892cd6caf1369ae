package transcript

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// EventType is the IRC verb an event was logged under.
type EventType string

// Logged event types.
const (
	EventMessage EventType = "PRIVMSG"
	EventAction  EventType = "ACTION"
	EventNotice  EventType = "NOTICE"
	EventJoin    EventType = "JOIN"
	EventPart    EventType = "PART"
	EventQuit    EventType = "QUIT"
	EventNick    EventType = "NICK"
)

// PresenceTypes are the event types that describe who is in the room
// rather than what was said.
var PresenceTypes = []EventType{EventJoin, EventPart, EventQuit, EventNick}

// AllTypes is every event type the transcript excerpt renders.
var AllTypes = []EventType{EventMessage, EventAction, EventJoin, EventPart, EventQuit, EventNick}

// Event is one logged line of channel activity. For PART and QUIT the
// Message holds the reason; for NICK it holds the new nick.
type Event struct {
	ID        int64
	Timestamp time.Time
	Channel   string
	Nick      string
	User      string
	Host      string
	Message   string
	Type      EventType
}

// LogEvent appends an event and updates the channel message counter and
// the author's last-seen time.
func (s *Store) LogEvent(ctx context.Context, e Event) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	if e.Type == "" {
		e.Type = EventMessage
	}
	ts := formatTime(e.Timestamp)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (timestamp, channel, nick, user, host, message, message_type)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ts, e.Channel, e.Nick, e.User, e.Host, e.Message, string(e.Type)); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	if e.Channel != "" {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO channels (name, joined_at, message_count) VALUES (?, ?, 1)
			ON CONFLICT(name) DO UPDATE SET message_count = message_count + 1
		`, e.Channel, ts); err != nil {
			return fmt.Errorf("update channel: %w", err)
		}
	}

	if e.Nick != "" {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO users (nick, user, host, first_seen, last_seen) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(nick) DO UPDATE SET
				user = excluded.user,
				host = excluded.host,
				last_seen = excluded.last_seen
		`, e.Nick, e.User, e.Host, ts, ts); err != nil {
			return fmt.Errorf("update user: %w", err)
		}
	}

	return tx.Commit()
}

// RecentEvents returns up to limit of the most recent events in channel,
// oldest first. hours > 0 restricts to that window. With no types only
// chat lines are returned.
func (s *Store) RecentEvents(ctx context.Context, channel string, limit, hours int, types ...EventType) ([]Event, error) {
	if len(types) == 0 {
		types = []EventType{EventMessage}
	}

	var (
		where []string
		args  []any
	)
	if channel != "" {
		where = append(where, "channel = ?")
		args = append(args, channel)
	}
	if hours > 0 {
		where = append(where, "timestamp > ?")
		args = append(args, formatTime(s.now().Add(-time.Duration(hours)*time.Hour)))
	}
	where = append(where, "message_type IN ("+placeholders(len(types))+")")
	for _, t := range types {
		args = append(args, string(t))
	}
	args = append(args, limit)

	query := `SELECT id, timestamp, channel, nick, user, host, message, message_type
		FROM messages WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY timestamp DESC, id DESC LIMIT ?`

	return s.queryEvents(ctx, query, args...)
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e                                   Event
			ts                                  dbTime
			channel, nick, user, host, msg, typ sql.NullString
		)
		if err := rows.Scan(&e.ID, &ts, &channel, &nick, &user, &host, &msg, &typ); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Timestamp = ts.Time
		e.Channel = channel.String
		e.Nick = nick.String
		e.User = user.String
		e.Host = host.String
		e.Message = msg.String
		e.Type = EventType(typ.String)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Queries select newest first so LIMIT keeps the tail; callers
	// want chronological order.
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

// Stats summarises a channel's logged chat.
type Stats struct {
	TotalMessages int
	UniqueUsers   int
	FirstMessage  time.Time
	LastMessage   time.Time
}

// ChannelStats returns message totals for channel, counting chat lines
// only.
func (s *Store) ChannelStats(ctx context.Context, channel string) (Stats, error) {
	var (
		st          Stats
		first, last dbTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT nick), MIN(timestamp), MAX(timestamp)
		FROM messages
		WHERE channel = ? AND message_type IN ('PRIVMSG', 'ACTION')
	`, channel).Scan(&st.TotalMessages, &st.UniqueUsers, &first, &last)
	if err != nil {
		return Stats{}, fmt.Errorf("channel stats: %w", err)
	}
	st.FirstMessage = first.Time
	st.LastMessage = last.Time
	return st, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}
