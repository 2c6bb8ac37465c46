package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/zoravur/realtime-chat/internal/logutil"
	"github.com/zoravur/realtime-chat/internal/protocol"
	"github.com/zoravur/realtime-chat/internal/registry"
)

type WSOptions struct {
	AllowedOrigins []string
	ReadLimit      int64
	SendQueue      int
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	RateBurst      int
	RateInterval   time.Duration
}

// Connector is what the websocket handler needs beyond frame dispatch.
type Connector interface {
	Connect(c registry.Conn)
	Disconnect(connID string) []string
}

// WSHandler holds shared resources injected from app.Server
type WSHandler struct {
	svc        Connector
	dispatcher *protocol.Dispatcher
	upgrader   websocket.Upgrader
	opts       WSOptions

	mu      sync.Mutex
	live    map[*wsConn]struct{}
	closing bool
	wg      sync.WaitGroup
}

func NewWSHandler(svc Connector, dispatcher *protocol.Dispatcher, opts WSOptions, logger *zap.Logger) *WSHandler {
	policy := newOriginPolicy(opts.AllowedOrigins, logger)
	return &WSHandler{
		svc:        svc,
		dispatcher: dispatcher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     policy.check,
		},
		opts: opts,
		live: make(map[*wsConn]struct{}),
	}
}

func (h *WSHandler) track(c *wsConn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.live[c] = struct{}{}
	h.wg.Add(1)
	return true
}

func (h *WSHandler) untrack(c *wsConn) {
	h.mu.Lock()
	delete(h.live, c)
	h.mu.Unlock()
	h.wg.Done()
}

// Shutdown closes every open websocket and waits for their handlers to
// return. http.Server.Shutdown does not wait for hijacked connections, so
// this must run before the service and store are torn down. Connections
// arriving afterwards are closed right away.
func (h *WSHandler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	for c := range h.live {
		c.close()
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleWS upgrades the request and serves frames until the client goes
// away. Frames from one connection are dispatched in arrival order.
func (h *WSHandler) HandleWS(w http.ResponseWriter, r *http.Request) {
	log := logutil.FromContext(r.Context())

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := newWSConn(ws, h.opts.SendQueue, h.opts.PingInterval, h.opts.WriteTimeout, log)
	if !h.track(c) {
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(h.opts.WriteTimeout))
		ws.Close()
		return
	}
	h.svc.Connect(c)
	go c.writePump()
	defer func() {
		topics := h.svc.Disconnect(c.ID())
		c.close()
		c.logger.Info("websocket closed", zap.Int("topics", len(topics)))
		h.untrack(c)
	}()
	c.logger.Info("websocket open", zap.String("remote", r.RemoteAddr))

	pongWait := h.opts.PingInterval * 2
	ws.SetReadLimit(h.opts.ReadLimit)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	limiter := rate.NewLimiter(rate.Every(h.opts.RateInterval), h.opts.RateBurst)
	// The request context is not tied to the socket once hijacked.
	ctx := logutil.WithLogger(context.WithoutCancel(r.Context()), c.logger)

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			logReadError(c.logger, err)
			return
		}
		ws.SetReadDeadline(time.Now().Add(pongWait))

		if !limiter.Allow() {
			c.Send(protocol.EventError, protocol.ErrorPayload{
				Message: "rate limit exceeded",
				Code:    http.StatusTooManyRequests,
			})
			continue
		}
		h.dispatcher.HandleMessage(ctx, c, raw)
	}
}

func logReadError(log *zap.Logger, err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		log.Warn("frame exceeded read limit", zap.Error(err))
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		log.Debug("client closed", zap.Error(err))
	default:
		log.Info("websocket read ended", zap.Error(err))
	}
}
