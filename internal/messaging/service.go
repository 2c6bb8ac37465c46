// Package messaging wires the registry, membership, ingestion, broadcast
// and receipt components into the one service the transports talk to.
package messaging

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zoravur/realtime-chat/internal/broadcast"
	"github.com/zoravur/realtime-chat/internal/chat"
	"github.com/zoravur/realtime-chat/internal/ingest"
	"github.com/zoravur/realtime-chat/internal/logutil"
	"github.com/zoravur/realtime-chat/internal/membership"
	"github.com/zoravur/realtime-chat/internal/receipts"
	"github.com/zoravur/realtime-chat/internal/registry"
)

// Store is everything the service needs from persistence.
type Store interface {
	chat.Store
	chat.History
}

// Enroller is implemented by stores that can put a user on a channel
// roster. Join uses it when AutoEnroll is set.
type Enroller interface {
	AddMember(ctx context.Context, channelID, userID string) (chat.Member, error)
}

// Runner is a publisher with a background loop, such as the Redis relay.
type Runner interface {
	Run(ctx context.Context) error
}

type Options struct {
	MaxMessageLength int
	AutoEnroll       bool
	// Publisher overrides local-only delivery. It must deliver to the
	// service's registry itself.
	Publisher broadcast.Publisher
	Clock     func() time.Time
}

type Service struct {
	store       Store
	reg         *registry.Registry
	members     *membership.Manager
	pipeline    *ingest.Pipeline
	broadcaster *broadcast.Broadcaster
	tracker     *receipts.Tracker
	pub         broadcast.Publisher
	autoEnroll  bool
	logger      *zap.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan error
}

func New(store Store, reg *registry.Registry, logger *zap.Logger, opts Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	pub := opts.Publisher
	if pub == nil {
		pub = broadcast.Local(reg)
	}
	var trackerOpts []receipts.Option
	if opts.Clock != nil {
		trackerOpts = append(trackerOpts, receipts.WithClock(opts.Clock))
	}

	members := membership.NewManager(store, reg, logger.Named("membership"))
	bc := broadcast.New(pub, members, logger.Named("broadcast"))
	return &Service{
		store:       store,
		reg:         reg,
		members:     members,
		pipeline:    ingest.NewPipeline(store, opts.MaxMessageLength, logger.Named("ingest")),
		broadcaster: bc,
		tracker:     receipts.NewTracker(store, bc, logger.Named("receipts"), trackerOpts...),
		pub:         pub,
		autoEnroll:  opts.AutoEnroll,
		logger:      logger,
	}
}

// Start launches the publisher's background loop, if it has one.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.started = true

	runner, ok := s.pub.(Runner)
	if !ok {
		return nil
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan error, 1)
	go func() {
		err := runner.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("publisher loop stopped", zap.Error(err))
		}
		s.done <- err
	}()
	return nil
}

// Close stops background work and drops every subscription. Connections
// themselves belong to the transport and are not closed here.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.started = false

	var err error
	if s.cancel != nil {
		s.cancel()
		if runErr := <-s.done; runErr != nil && !errors.Is(runErr, context.Canceled) {
			err = runErr
		}
		s.cancel, s.done = nil, nil
	}
	dropped := s.reg.Reset()
	s.logger.Info("messaging closed", zap.Int("connections", dropped))
	return err
}

func (s *Service) Registry() *registry.Registry { return s.reg }
func (s *Service) History() chat.History        { return s.store }
func (s *Service) MaxMessageLength() int        { return s.pipeline.MaxLength() }
func (s *Service) Stats() registry.Stats        { return s.reg.Snapshot() }

// Ping checks the store when it supports it.
func (s *Service) Ping(ctx context.Context) error {
	if p, ok := s.store.(chat.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Connect makes a connection known to the registry.
func (s *Service) Connect(c registry.Conn) {
	s.reg.Register(c)
	s.logger.Debug("connected", zap.String("conn_id", c.ID()))
}

// Join subscribes c to channelID and to userID's personal topic, so the
// connection receives both channel traffic and unread nudges.
func (s *Service) Join(ctx context.Context, c registry.Conn, userID, channelID string) error {
	if strings.TrimSpace(userID) == "" {
		return chat.Invalid("userId", "is required")
	}
	if strings.TrimSpace(channelID) == "" {
		return chat.Invalid("channelId", "is required")
	}

	if s.autoEnroll {
		if e, ok := s.store.(Enroller); ok {
			if _, err := e.AddMember(ctx, channelID, userID); err != nil {
				return chat.Persistence("addMember", err)
			}
		}
	}

	s.reg.Subscribe(c, membership.ChannelTopic(channelID))
	s.reg.Subscribe(c, membership.PersonalTopicOf(userID))
	s.logger.Debug("joined",
		zap.String("conn_id", c.ID()),
		zap.String("user_id", userID),
		zap.String("channel_id", channelID),
	)
	return nil
}

// Leave drops a single channel subscription. The personal topic stays.
func (s *Service) Leave(connID, channelID string) bool {
	return s.reg.Unsubscribe(connID, membership.ChannelTopic(channelID))
}

// Send persists a message, then broadcasts it to the channel and nudges
// the other members. Fan-out problems never fail the send once the
// message is stored.
func (s *Service) Send(ctx context.Context, channelID, senderID, content string) (chat.Message, error) {
	msg, err := s.pipeline.Ingest(ctx, channelID, senderID, content)
	if err != nil {
		return chat.Message{}, err
	}

	if err := s.broadcaster.AnnounceMessage(ctx, msg); err != nil {
		s.logger.Warn("announce message", zap.String("message_id", msg.ID), zap.Error(err))
	}

	notified, err := s.broadcaster.AnnounceUnread(ctx, channelID, senderID)
	fields := logutil.Values(
		zap.String("channel_id", channelID),
		zap.String("sender_id", senderID),
		zap.String("message_id", msg.ID),
	)
	switch {
	case chat.IsMembershipLookup(err):
		s.logger.Warn("unread notify skipped", fields, zap.Error(err))
	case err != nil:
		s.logger.Warn("unread notify partially failed", fields, zap.Error(err))
	default:
		s.logger.Debug("message sent", fields, zap.Int("notified", notified))
	}
	return msg, nil
}

func (s *Service) MarkRead(ctx context.Context, userID, channelID string) (int64, error) {
	return s.tracker.MarkRead(ctx, userID, channelID)
}

// Disconnect removes every subscription held by connID.
func (s *Service) Disconnect(connID string) []string {
	topics := s.reg.UnsubscribeAll(connID)
	s.logger.Debug("disconnected", zap.String("conn_id", connID), zap.Strings("topics", topics))
	return topics
}
