// Package postgres is the pgx-backed chat store.
package postgres

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zoravur/realtime-chat/internal/chat"
)

type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// Open connects a pool to dsn and checks it answers.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return New(pool), nil
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

func (s *Store) Close()                         { s.pool.Close() }
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

const messageColumns = `id, content, sender_id, channel_id, created_at`

func (s *Store) CreateMessage(ctx context.Context, channelID, senderID, content string) (chat.Message, error) {
	rows, err := s.pool.Query(ctx, `
		INSERT INTO messages (id, channel_id, sender_id, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+messageColumns,
		uuid.NewString(), channelID, senderID, content, s.now().UTC(),
	)
	if err != nil {
		return chat.Message{}, fmt.Errorf("insert message: %w", err)
	}
	msg, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[chat.Message])
	if err != nil {
		return chat.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

// AddMember is idempotent and returns the stored membership either way.
func (s *Store) AddMember(ctx context.Context, channelID, userID string) (chat.Member, error) {
	rows, err := s.pool.Query(ctx, `
		INSERT INTO members (id, user_id, channel_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (channel_id, user_id) DO UPDATE SET channel_id = EXCLUDED.channel_id
		RETURNING id, user_id, channel_id, created_at`,
		uuid.NewString(), userID, channelID, s.now().UTC(),
	)
	if err != nil {
		return chat.Member{}, fmt.Errorf("add member: %w", err)
	}
	m, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[chat.Member])
	if err != nil {
		return chat.Member{}, fmt.Errorf("add member: %w", err)
	}
	return m, nil
}

func (s *Store) RemoveMember(ctx context.Context, channelID, userID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM members WHERE channel_id = $1 AND user_id = $2`, channelID, userID)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	return nil
}

func (s *Store) FindMembers(ctx context.Context, channelID, excludeUserID string) ([]chat.Member, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, channel_id, created_at
		FROM members
		WHERE channel_id = $1 AND user_id <> $2
		ORDER BY created_at, user_id`,
		channelID, excludeUserID,
	)
	if err != nil {
		return nil, fmt.Errorf("find members: %w", err)
	}
	members, err := pgx.CollectRows(rows, pgx.RowToStructByName[chat.Member])
	if err != nil {
		return nil, fmt.Errorf("find members: %w", err)
	}
	return members, nil
}

// UpdateSeenStatus stamps seen_at for every message in the channel the
// user has not seen yet. Existing timestamps are left alone, so the
// returned count only covers newly seen messages.
func (s *Store) UpdateSeenStatus(ctx context.Context, userID, channelID string, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO seen_status (user_id, message_id, seen_at)
		SELECT $1::text, m.id, $3::timestamptz
		FROM messages m
		WHERE m.channel_id = $2
		ON CONFLICT (user_id, message_id) DO UPDATE
		SET seen_at = EXCLUDED.seen_at
		WHERE seen_status.seen_at IS NULL`,
		userID, channelID, now,
	)
	if err != nil {
		return 0, fmt.Errorf("update seen status: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListMessages returns up to limit of the newest messages, oldest first.
func (s *Store) ListMessages(ctx context.Context, channelID string, limit int) ([]chat.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE channel_id = $1
		ORDER BY seq DESC
		LIMIT $2`,
		channelID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	msgs, err := pgx.CollectRows(rows, pgx.RowToStructByName[chat.Message])
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	slices.Reverse(msgs)
	return msgs, nil
}

// CountUnread counts messages in the channel from other senders that the
// user has no seen_at for.
func (s *Store) CountUnread(ctx context.Context, userID, channelID string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM messages m
		LEFT JOIN seen_status s ON s.message_id = m.id AND s.user_id = $1
		WHERE m.channel_id = $2 AND m.sender_id <> $1 AND s.seen_at IS NULL`,
		userID, channelID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

// SeenStatuses lists the user's seen state for every message in the
// channel, in message order.
func (s *Store) SeenStatuses(ctx context.Context, userID, channelID string) ([]chat.SeenStatus, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT $1::text AS user_id, m.id AS message_id, s.seen_at
		FROM messages m
		LEFT JOIN seen_status s ON s.message_id = m.id AND s.user_id = $1
		WHERE m.channel_id = $2
		ORDER BY m.seq`,
		userID, channelID,
	)
	if err != nil {
		return nil, fmt.Errorf("seen statuses: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[chat.SeenStatus])
	if err != nil {
		return nil, fmt.Errorf("seen statuses: %w", err)
	}
	return out, nil
}
