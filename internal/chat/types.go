// Package chat holds the domain types shared by the messaging core and the
// store interface the core calls into.
package chat

import (
	"context"
	"time"
)

// Message is a persisted chat message. The JSON field names match the
// payload existing clients already read from newMessage events.
type Message struct {
	ID        string    `json:"id"        db:"id"`
	Content   string    `json:"content"   db:"content"`
	SenderID  string    `json:"memberId"  db:"sender_id"`
	ChannelID string    `json:"channelId" db:"channel_id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

type Member struct {
	ID        string    `json:"id"        db:"id"`
	UserID    string    `json:"userId"    db:"user_id"`
	ChannelID string    `json:"channelId" db:"channel_id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// SeenStatus records when a user saw a message. A nil SeenAt means unseen.
type SeenStatus struct {
	UserID    string     `json:"userId"    db:"user_id"`
	MessageID string     `json:"messageId" db:"message_id"`
	SeenAt    *time.Time `json:"seenAt"    db:"seen_at"`
}

// Store is the narrow persistence surface the core depends on.
type Store interface {
	// CreateMessage persists a message and returns it with its durable ID
	// and creation time filled in.
	CreateMessage(ctx context.Context, channelID, senderID, content string) (Message, error)

	// FindMembers lists the members of channelID, leaving out excludeUserID.
	// An empty excludeUserID excludes nobody.
	FindMembers(ctx context.Context, channelID, excludeUserID string) ([]Member, error)

	// UpdateSeenStatus stamps now on every message of channelID the user has
	// not seen yet and reports how many rows changed.
	UpdateSeenStatus(ctx context.Context, userID, channelID string, now time.Time) (int64, error)
}

// History is the read side used for client re-sync.
type History interface {
	ListMessages(ctx context.Context, channelID string, limit int) ([]Message, error)
	CountUnread(ctx context.Context, userID, channelID string) (int64, error)
}

// Pinger is implemented by stores that can report their own reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}
