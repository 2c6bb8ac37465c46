// Package membership resolves channel rosters through the store and maps
// users onto the topics and connections that reach them.
package membership

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/zoravur/realtime-chat/internal/chat"
)

const (
	personalTopicPrefix = "user:"
	channelTopicPrefix  = "channel:"
)

// PersonalTopicOf returns the notification topic for a user. The mapping is
// stable and 1:1. Channel and user topics carry distinct prefixes, so no
// channel ID can name a user's topic.
func PersonalTopicOf(userID string) string {
	return personalTopicPrefix + userID
}

// ChannelTopic returns the registry topic for a channel.
func ChannelTopic(channelID string) string {
	return channelTopicPrefix + channelID
}

// Finder is the part of chat.Store membership needs.
type Finder interface {
	FindMembers(ctx context.Context, channelID, excludeUserID string) ([]chat.Member, error)
}

// Locator reports which connections are subscribed to a topic.
type Locator interface {
	Subscribers(topic string) []string
}

type Manager struct {
	store   Finder
	locator Locator
	logger  *zap.Logger
}

func NewManager(store Finder, locator Locator, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, locator: locator, logger: logger}
}

// MembersOf returns the set of user IDs belonging to channelID.
func (m *Manager) MembersOf(ctx context.Context, channelID string) (map[string]struct{}, error) {
	return m.lookup(ctx, channelID, "")
}

// OthersOf returns the members of channelID without excludeUserID. The
// exclusion is applied here as well as in the store query.
func (m *Manager) OthersOf(ctx context.Context, channelID, excludeUserID string) ([]string, error) {
	set, err := m.lookup(ctx, channelID, excludeUserID)
	if err != nil {
		return nil, err
	}
	delete(set, excludeUserID)
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Manager) lookup(ctx context.Context, channelID, excludeUserID string) (map[string]struct{}, error) {
	members, err := m.store.FindMembers(ctx, channelID, excludeUserID)
	if err != nil {
		return nil, &chat.MembershipLookupError{ChannelID: channelID, Err: err}
	}
	set := make(map[string]struct{}, len(members))
	for _, mb := range members {
		if mb.UserID == "" {
			continue
		}
		set[mb.UserID] = struct{}{}
	}
	m.logger.Debug("resolved members",
		zap.String("channel_id", channelID),
		zap.Int("count", len(set)),
	)
	return set, nil
}

// ConnectionsOf lists the live connections listening on a user's personal topic.
func (m *Manager) ConnectionsOf(userID string) []string {
	if m.locator == nil {
		return nil
	}
	return m.locator.Subscribers(PersonalTopicOf(userID))
}
