package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zoravur/realtime-chat/internal/api"
	"github.com/zoravur/realtime-chat/internal/config"
	"github.com/zoravur/realtime-chat/internal/messaging"
	"github.com/zoravur/realtime-chat/internal/protocol"
	"github.com/zoravur/realtime-chat/internal/registry"
	"github.com/zoravur/realtime-chat/internal/relay"
	"github.com/zoravur/realtime-chat/internal/store/memstore"
	"github.com/zoravur/realtime-chat/internal/store/postgres"
)

type Server struct {
	cfg        config.Config
	logger     *zap.Logger
	httpServer *http.Server
	ws         *api.WSHandler
	Service    *messaging.Service
	closers    []func()
}

// NewServer builds the store, optional relay, messaging service and HTTP
// server from cfg. Nothing is listening until Run.
func NewServer(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Server, error) {
	s := &Server{cfg: cfg, logger: logger}

	store, err := s.openStore(ctx)
	if err != nil {
		s.close()
		return nil, err
	}

	reg := registry.New(logger.Named("registry"))
	opts := messaging.Options{
		MaxMessageLength: cfg.MaxMessageLength,
		AutoEnroll:       cfg.AutoEnroll,
	}
	if cfg.RedisURL != "" {
		pub, err := s.openRelay(ctx, reg)
		if err != nil {
			s.close()
			return nil, err
		}
		opts.Publisher = pub
	}

	s.Service = messaging.New(store, reg, logger.Named("messaging"), opts)

	s.ws = api.NewWSHandler(s.Service, protocol.NewDispatcher(s.Service, logger.Named("protocol")), api.WSOptions{
		AllowedOrigins: cfg.WebSocket.AllowedOrigins,
		ReadLimit:      cfg.WebSocket.ReadLimit,
		SendQueue:      cfg.WebSocket.SendQueue,
		PingInterval:   cfg.WebSocket.PingInterval,
		WriteTimeout:   cfg.WebSocket.WriteTimeout,
		RateBurst:      cfg.WebSocket.RateLimit.Burst,
		RateInterval:   cfg.WebSocket.RateLimit.Interval,
	}, logger.Named("ws"))

	s.httpServer = &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api.SetupRoutes(s.Service, s.ws, logger.Named("http")),
	}
	return s, nil
}

func (s *Server) openStore(ctx context.Context) (messaging.Store, error) {
	if s.cfg.DatabaseURL == "" {
		s.logger.Warn("DATABASE_URL not set, using in-memory store")
		return memstore.New(), nil
	}
	if s.cfg.MigrateOnStart {
		if err := postgres.Migrate(ctx, s.cfg.DatabaseURL, "up", s.logger.Named("migrate")); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	store, err := postgres.Open(ctx, s.cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	s.closers = append(s.closers, store.Close)
	return store, nil
}

func (s *Server) openRelay(ctx context.Context, reg *registry.Registry) (*relay.Redis, error) {
	opt, err := redis.ParseURL(s.cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	s.closers = append(s.closers, func() { client.Close() })

	node := s.cfg.NodeID
	if node == "" {
		node = uuid.NewString()
	}
	s.logger.Info("cross-node relay enabled", zap.String("node", node))
	return relay.NewRedis(client, reg, node, s.logger.Named("relay")), nil
}

// Run serves until ctx is cancelled, then drains HTTP and stops the
// messaging service.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Service.Start(ctx); err != nil {
		return err
	}
	defer s.close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
		defer cancel()
		err := s.httpServer.Shutdown(shutdownCtx)
		// Hijacked websockets outlive http.Server.Shutdown; drain them
		// before the service and store go away.
		if werr := s.ws.Shutdown(shutdownCtx); werr != nil {
			s.logger.Warn("websocket drain", zap.Error(werr))
		}
		if cerr := s.Service.Close(); cerr != nil {
			s.logger.Warn("messaging close", zap.Error(cerr))
		}
		return err
	})
	return g.Wait()
}

func (s *Server) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
