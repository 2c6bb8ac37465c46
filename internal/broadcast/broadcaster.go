// Package broadcast turns persisted chat activity into registry events:
// new messages and seen updates go to the channel topic, unread nudges go
// to each other member's personal topic.
package broadcast

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/zoravur/realtime-chat/internal/chat"
	"github.com/zoravur/realtime-chat/internal/membership"
	"github.com/zoravur/realtime-chat/internal/protocol"
)

var ErrNotPersisted = errors.New("broadcast: message has no durable id")

// Publisher delivers an event to everyone subscribed to topic.
type Publisher interface {
	Publish(ctx context.Context, topic, event string, payload any) error
}

// LocalRegistry is what the in-process registry offers.
type LocalRegistry interface {
	Publish(topic, event string, payload any) int
}

type localPublisher struct{ reg LocalRegistry }

// Local publishes straight into an in-process registry.
func Local(reg LocalRegistry) Publisher { return localPublisher{reg: reg} }

func (l localPublisher) Publish(_ context.Context, topic, event string, payload any) error {
	l.reg.Publish(topic, event, payload)
	return nil
}

// Resolver finds the members to notify about unread messages.
type Resolver interface {
	OthersOf(ctx context.Context, channelID, excludeUserID string) ([]string, error)
}

type Broadcaster struct {
	pub     Publisher
	members Resolver
	logger  *zap.Logger
}

func New(pub Publisher, members Resolver, logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{pub: pub, members: members, logger: logger}
}

// AnnounceMessage publishes newMessage with the full message to the
// channel topic.
func (b *Broadcaster) AnnounceMessage(ctx context.Context, msg chat.Message) error {
	if msg.ID == "" {
		return ErrNotPersisted
	}
	return b.pub.Publish(ctx, membership.ChannelTopic(msg.ChannelID), protocol.EventNewMessage, msg)
}

// AnnounceUnread notifies every member of channelID except excludeUserID
// on their personal topic and returns how many were notified. A lookup
// failure is returned untouched so the caller can log and move on.
func (b *Broadcaster) AnnounceUnread(ctx context.Context, channelID, excludeUserID string) (int, error) {
	others, err := b.members.OthersOf(ctx, channelID, excludeUserID)
	if err != nil {
		return 0, err
	}

	payload := protocol.UnreadCountUpdated{ChannelID: channelID}
	var errs []error
	notified := 0
	for _, userID := range others {
		if userID == excludeUserID {
			continue
		}
		if err := b.pub.Publish(ctx, membership.PersonalTopicOf(userID), protocol.EventUnreadCountUpdated, payload); err != nil {
			errs = append(errs, err)
			continue
		}
		notified++
	}
	return notified, errors.Join(errs...)
}

// AnnounceSeen tells everyone viewing channelID that userID's read
// position moved.
func (b *Broadcaster) AnnounceSeen(ctx context.Context, channelID, userID string) error {
	payload := protocol.MessagesSeen{UserID: userID, ChannelID: channelID}
	return b.pub.Publish(ctx, membership.ChannelTopic(channelID), protocol.EventMessagesSeen, payload)
}
