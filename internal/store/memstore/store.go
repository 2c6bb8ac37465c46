// Package memstore is an in-process chat.Store used for development runs
// without a database and throughout the tests.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zoravur/realtime-chat/internal/chat"
)

type Store struct {
	mu       sync.RWMutex
	messages map[string][]chat.Message         // channel -> messages in insert order
	members  map[string]map[string]chat.Member // channel -> user -> member
	seen     map[string]map[string]time.Time   // user -> message -> seen at
	now      func() time.Time
}

func New() *Store {
	return &Store{
		messages: make(map[string][]chat.Message),
		members:  make(map[string]map[string]chat.Member),
		seen:     make(map[string]map[string]time.Time),
		now:      time.Now,
	}
}

// WithClock swaps the clock used for message timestamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
	return s
}

// AddMember puts userID on channelID's roster. Adding twice returns the
// existing record.
func (s *Store) AddMember(_ context.Context, channelID, userID string) (chat.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	roster := s.members[channelID]
	if roster == nil {
		roster = make(map[string]chat.Member)
		s.members[channelID] = roster
	}
	if m, ok := roster[userID]; ok {
		return m, nil
	}
	m := chat.Member{
		ID:        uuid.NewString(),
		UserID:    userID,
		ChannelID: channelID,
		CreatedAt: s.now().UTC(),
	}
	roster[userID] = m
	return m, nil
}

func (s *Store) RemoveMember(_ context.Context, channelID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members[channelID], userID)
	return nil
}

func (s *Store) CreateMessage(_ context.Context, channelID, senderID, content string) (chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := chat.Message{
		ID:        uuid.NewString(),
		Content:   content,
		SenderID:  senderID,
		ChannelID: channelID,
		CreatedAt: s.now().UTC(),
	}
	s.messages[channelID] = append(s.messages[channelID], msg)
	return msg, nil
}

func (s *Store) FindMembers(_ context.Context, channelID, excludeUserID string) ([]chat.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]chat.Member, 0, len(s.members[channelID]))
	for userID, m := range s.members[channelID] {
		if excludeUserID != "" && userID == excludeUserID {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) UpdateSeenStatus(_ context.Context, userID, channelID string, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := s.seen[userID]
	if seen == nil {
		seen = make(map[string]time.Time)
		s.seen[userID] = seen
	}
	var affected int64
	for _, msg := range s.messages[channelID] {
		if _, ok := seen[msg.ID]; ok {
			continue
		}
		seen[msg.ID] = now
		affected++
	}
	return affected, nil
}

// ListMessages returns up to limit of the newest messages, oldest first.
func (s *Store) ListMessages(_ context.Context, channelID string, limit int) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.messages[channelID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return append([]chat.Message(nil), all...), nil
}

// CountUnread counts messages in channelID from other senders that userID
// has not seen.
func (s *Store) CountUnread(_ context.Context, userID, channelID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, msg := range s.messages[channelID] {
		if msg.SenderID == userID {
			continue
		}
		if _, ok := s.seen[userID][msg.ID]; !ok {
			n++
		}
	}
	return n, nil
}

// SeenStatuses reports the seen state of every message in channelID for userID.
func (s *Store) SeenStatuses(userID, channelID string) []chat.SeenStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]chat.SeenStatus, 0, len(s.messages[channelID]))
	for _, msg := range s.messages[channelID] {
		st := chat.SeenStatus{UserID: userID, MessageID: msg.ID}
		if at, ok := s.seen[userID][msg.ID]; ok {
			st.SeenAt = &at
		}
		out = append(out, st)
	}
	return out
}

func (s *Store) Ping(context.Context) error { return nil }
