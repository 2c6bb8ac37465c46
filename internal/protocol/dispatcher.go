package protocol

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/zoravur/realtime-chat/internal/chat"
	"github.com/zoravur/realtime-chat/internal/registry"
)

// Service is the messaging API client frames are dispatched to.
type Service interface {
	Join(ctx context.Context, c registry.Conn, userID, channelID string) error
	Leave(connID, channelID string) bool
	Send(ctx context.Context, channelID, senderID, content string) (chat.Message, error)
	MarkRead(ctx context.Context, userID, channelID string) (int64, error)
}

type handlerFunc func(ctx context.Context, c registry.Conn, data json.RawMessage) error

// Dispatcher routes decoded frames to the service. Failures are reported
// back to the originating connection as error events and never reach
// other clients.
type Dispatcher struct {
	svc      Service
	logger   *zap.Logger
	handlers map[string]handlerFunc
}

func NewDispatcher(svc Service, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{svc: svc, logger: logger}
	d.handlers = map[string]handlerFunc{
		EventJoinChannel:  d.joinChannel,
		EventSendMessage:  d.sendMessage,
		EventMarkAsRead:   d.markAsRead,
		EventLeaveChannel: d.leaveChannel,
	}
	return d
}

// HandleMessage handles one raw frame received from c.
func (d *Dispatcher) HandleMessage(ctx context.Context, c registry.Conn, raw []byte) {
	frame, err := DecodeFrame(raw)
	if err != nil {
		d.reply(c, "", chat.Invalid("", "malformed frame"))
		return
	}

	h, ok := d.handlers[frame.Type]
	if !ok {
		d.reply(c, frame.Type, chat.Invalid("type", "is not a known event"))
		return
	}
	if err := h(ctx, c, frame.Data); err != nil {
		d.reply(c, frame.Type, err)
	}
}

func (d *Dispatcher) joinChannel(ctx context.Context, c registry.Conn, data json.RawMessage) error {
	var req JoinChannel
	if err := decodeData(data, &req); err != nil {
		return err
	}
	return d.svc.Join(ctx, c, req.UserID, req.ChannelID)
}

func (d *Dispatcher) sendMessage(ctx context.Context, _ registry.Conn, data json.RawMessage) error {
	var req SendMessage
	if err := decodeData(data, &req); err != nil {
		return err
	}
	_, err := d.svc.Send(ctx, req.ChannelID, req.SenderID, req.Message)
	return err
}

func (d *Dispatcher) markAsRead(ctx context.Context, _ registry.Conn, data json.RawMessage) error {
	var req MarkAsRead
	if err := decodeData(data, &req); err != nil {
		return err
	}
	_, err := d.svc.MarkRead(ctx, req.UserID, req.ChannelID)
	return err
}

func (d *Dispatcher) leaveChannel(_ context.Context, c registry.Conn, data json.RawMessage) error {
	var req LeaveChannel
	if err := decodeData(data, &req); err != nil {
		return err
	}
	if req.ChannelID == "" {
		return chat.Invalid("channelId", "is required")
	}
	d.svc.Leave(c.ID(), req.ChannelID)
	return nil
}

func decodeData(data json.RawMessage, dst any) error {
	if len(data) == 0 {
		return chat.Invalid("data", "is required")
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return chat.Invalid("data", fmt.Sprintf("is malformed: %v", err))
	}
	return nil
}

func (d *Dispatcher) reply(c registry.Conn, event string, err error) {
	code := chat.Code(err)
	msg := err.Error()
	switch {
	case code >= 500 && chat.IsPersistence(err):
		msg = "storage unavailable, try again"
	case code >= 500:
		msg = "internal error"
	}

	d.logger.Info("request failed",
		zap.String("conn_id", c.ID()),
		zap.String("event", event),
		zap.Int("code", code),
		zap.Error(err),
	)
	if sendErr := c.Send(EventError, ErrorPayload{Event: event, Message: msg, Code: code}); sendErr != nil {
		d.logger.Debug("error event not delivered", zap.String("conn_id", c.ID()), zap.Error(sendErr))
	}
}
