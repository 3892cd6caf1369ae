// Package transcript is the durable record of channel activity: chat
// lines and presence events, the current roster of each channel, and the
// agent's own conversation turns and rolling summaries.
package transcript

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so timestamps compare correctly as text.
const timeLayout = "2006-01-02 15:04:05.000000"

// Store is a SQLite-backed transcript.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open opens (creating if needed) the transcript database at path.
// driver is "sqlite3" for mattn/go-sqlite3 or "sqlite" for the pure Go
// modernc driver. Rows written by the earlier Python release are kept and
// its conversation history is imported on first open.
func Open(driver, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open(driver, dsn(driver, path))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows one writer; a single connection keeps seq
	// allocation and :memory: databases consistent.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logger, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func dsn(driver, path string) string {
	switch driver {
	case "sqlite":
		return path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	default:
		return path + "?_journal_mode=WAL&_busy_timeout=5000"
	}
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		channel TEXT,
		nick TEXT,
		user TEXT,
		host TEXT,
		message TEXT,
		message_type TEXT DEFAULT 'PRIVMSG'
	);
	CREATE INDEX IF NOT EXISTS idx_messages_channel_timestamp ON messages(channel, timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_messages_nick ON messages(nick);
	CREATE INDEX IF NOT EXISTS idx_messages_type ON messages(message_type);

	CREATE TABLE IF NOT EXISTS channels (
		name TEXT PRIMARY KEY,
		joined_at TEXT,
		message_count INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS users (
		nick TEXT PRIMARY KEY,
		user TEXT,
		host TEXT,
		first_seen TEXT,
		last_seen TEXT
	);

	CREATE TABLE IF NOT EXISTS channel_users (
		channel TEXT NOT NULL,
		nick TEXT NOT NULL,
		joined_at TEXT,
		PRIMARY KEY (channel, nick)
	);

	CREATE TABLE IF NOT EXISTS conversation_turns (
		id TEXT PRIMARY KEY,
		channel TEXT NOT NULL,
		seq INTEGER NOT NULL,
		kind TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		tool_calls TEXT,
		tool_call_id TEXT,
		tool_name TEXT,
		created_at TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_turns_channel_seq ON conversation_turns(channel, seq);

	CREATE TABLE IF NOT EXISTS conversation_summaries (
		channel TEXT PRIMARY KEY,
		summary TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tool_calls (
		id TEXT PRIMARY KEY,
		channel TEXT NOT NULL,
		tool_call_id TEXT,
		tool_name TEXT NOT NULL,
		arguments TEXT NOT NULL,
		result TEXT,
		error TEXT,
		started_at TEXT NOT NULL,
		duration_ms INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_tool_calls_channel ON tool_calls(channel, started_at);
	CREATE INDEX IF NOT EXISTS idx_tool_calls_tool ON tool_calls(tool_name);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return s.importLegacyHistory()
}

// DB exposes the handle so other ledgers can share the database file.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// dbTime scans timestamps regardless of how the driver or an older
// writer stored them: time.Time, text or NULL.
type dbTime struct {
	time.Time
}

var parseLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
}

func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time = time.Time{}
		return nil
	case time.Time:
		t.Time = v.UTC()
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}
}

func (t *dbTime) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range parseLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("unparseable timestamp %q", s)
}
