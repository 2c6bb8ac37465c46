// Package receipts marks channel messages as seen for a user and tells the
// channel about it.
package receipts

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zoravur/realtime-chat/internal/chat"
	"github.com/zoravur/realtime-chat/internal/logutil"
)

type Updater interface {
	UpdateSeenStatus(ctx context.Context, userID, channelID string, now time.Time) (int64, error)
}

type Announcer interface {
	AnnounceSeen(ctx context.Context, channelID, userID string) error
}

type Tracker struct {
	store     Updater
	announcer Announcer
	now       func() time.Time
	logger    *zap.Logger
}

type Option func(*Tracker)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option { return func(t *Tracker) { t.now = now } }

func NewTracker(store Updater, announcer Announcer, logger *zap.Logger, opts ...Option) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracker{store: store, announcer: announcer, now: time.Now, logger: logger}
	for _, o := range opts {
		o(t)
	}
	return t
}

// MarkRead stamps every unseen message of channelID as seen by userID and
// then announces the new read position. Messages already seen keep their
// original timestamp. The announcement is sent on every successful call,
// even when nothing changed; it is skipped when the store update fails.
func (t *Tracker) MarkRead(ctx context.Context, userID, channelID string) (int64, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, chat.Invalid("userId", "is required")
	}
	if strings.TrimSpace(channelID) == "" {
		return 0, chat.Invalid("channelId", "is required")
	}

	fields := logutil.Values(zap.String("user_id", userID), zap.String("channel_id", channelID))
	affected, err := t.store.UpdateSeenStatus(ctx, userID, channelID, t.now().UTC())
	if err != nil {
		t.logger.Error("update seen status", fields, zap.Error(err))
		return 0, chat.Persistence("updateSeenStatus", err)
	}

	t.logger.Debug("marked read", fields, zap.Int64("affected", affected))

	if err := t.announcer.AnnounceSeen(ctx, channelID, userID); err != nil {
		t.logger.Warn("announce seen", fields, zap.Error(err))
	}
	return affected, nil
}
