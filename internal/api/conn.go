package api

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zoravur/realtime-chat/internal/protocol"
	"github.com/zoravur/realtime-chat/internal/registry"
)

// ErrSendQueueFull means the client is not draining its socket fast enough.
// The event is dropped.
var ErrSendQueueFull = errors.New("api: send queue full")

// wsConn is a registry.Conn backed by a websocket. Events are queued on a
// bounded channel and written by a single writer goroutine.
type wsConn struct {
	id     string
	ws     *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	ping   time.Duration
	wait   time.Duration
	logger *zap.Logger
}

func newWSConn(ws *websocket.Conn, queue int, ping, writeTimeout time.Duration, logger *zap.Logger) *wsConn {
	id := uuid.NewString()
	return &wsConn{
		id:     id,
		ws:     ws,
		send:   make(chan []byte, queue),
		done:   make(chan struct{}),
		ping:   ping,
		wait:   writeTimeout,
		logger: logger.With(zap.String("conn_id", id)),
	}
}

func (c *wsConn) ID() string { return c.id }

// Send never blocks: it fails with registry.ErrConnClosed after close and
// with ErrSendQueueFull when the queue is saturated.
func (c *wsConn) Send(event string, payload any) error {
	frame, err := protocol.EncodeFrame(event, payload)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return registry.ErrConnClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return registry.ErrConnClosed
	default:
		return ErrSendQueueFull
	}
}

func (c *wsConn) close() {
	c.once.Do(func() { close(c.done) })
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(c.ping)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.wait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				c.close()
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.wait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("ping failed", zap.Error(err))
				c.close()
				return
			}
		case <-c.done:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.wait))
			return
		}
	}
}
