package transcript

import (
	"context"
	"fmt"
)

// AddMember records nick as present in channel.
func (s *Store) AddMember(ctx context.Context, channel, nick string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO channel_users (channel, nick, joined_at) VALUES (?, ?, ?)
	`, channel, nick, formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

// RemoveMember records nick as gone from channel.
func (s *Store) RemoveMember(ctx context.Context, channel, nick string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM channel_users WHERE channel = ? AND nick = ?`, channel, nick); err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	return nil
}

// ChannelsOf returns the channels nick is currently recorded in.
func (s *Store) ChannelsOf(ctx context.Context, nick string) ([]string, error) {
	return s.strings(ctx, `SELECT channel FROM channel_users WHERE nick = ? ORDER BY channel`, nick)
}

// RemoveEverywhere drops nick from every roster and returns the
// channels it was in, so a QUIT can be logged to each of them.
func (s *Store) RemoveEverywhere(ctx context.Context, nick string) ([]string, error) {
	channels, err := s.ChannelsOf(ctx, nick)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM channel_users WHERE nick = ?`, nick); err != nil {
		return nil, fmt.Errorf("remove member everywhere: %w", err)
	}
	return channels, nil
}

// RenameMember moves oldNick's roster entries to newNick and returns
// the affected channels.
func (s *Store) RenameMember(ctx context.Context, oldNick, newNick string) ([]string, error) {
	channels, err := s.ChannelsOf(ctx, oldNick)
	if err != nil {
		return nil, err
	}
	if len(channels) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM channel_users WHERE nick = ?`, newNick); err != nil {
		return nil, fmt.Errorf("rename member: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE channel_users SET nick = ? WHERE nick = ?`, newNick, oldNick); err != nil {
		return nil, fmt.Errorf("rename member: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return channels, nil
}

// ResetRoster empties channel's roster. Called when the bot itself
// leaves or before a fresh NAMES listing arrives.
func (s *Store) ResetRoster(ctx context.Context, channel string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM channel_users WHERE channel = ?`, channel); err != nil {
		return fmt.Errorf("reset roster: %w", err)
	}
	return nil
}

// Members returns the nicks present in channel, sorted.
func (s *Store) Members(ctx context.Context, channel string) ([]string, error) {
	return s.strings(ctx, `SELECT nick FROM channel_users WHERE channel = ? ORDER BY nick`, channel)
}

func (s *Store) strings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
