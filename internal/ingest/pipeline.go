// Package ingest validates and persists incoming chat messages. Every new
// message goes through Pipeline.Ingest before anything may broadcast it.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/zoravur/realtime-chat/internal/chat"
)

const DefaultMaxContentLength = 2000

// Creator is the part of chat.Store ingestion needs.
type Creator interface {
	CreateMessage(ctx context.Context, channelID, senderID, content string) (chat.Message, error)
}

type Pipeline struct {
	store     Creator
	maxLength int
	logger    *zap.Logger
}

// NewPipeline builds a pipeline. maxLength counts runes; zero or less picks
// DefaultMaxContentLength.
func NewPipeline(store Creator, maxLength int, logger *zap.Logger) *Pipeline {
	if maxLength <= 0 {
		maxLength = DefaultMaxContentLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{store: store, maxLength: maxLength, logger: logger}
}

func (p *Pipeline) MaxLength() int { return p.maxLength }

// Validate checks a send request without touching the store.
func (p *Pipeline) Validate(channelID, senderID, content string) error {
	if strings.TrimSpace(channelID) == "" {
		return chat.Invalid("channelId", "is required")
	}
	if strings.TrimSpace(senderID) == "" {
		return chat.Invalid("senderId", "is required")
	}
	if strings.TrimSpace(content) == "" {
		return chat.Invalid("message", "must not be empty")
	}
	if n := utf8.RuneCountInString(content); n > p.maxLength {
		return chat.Invalid("message", fmt.Sprintf("is %d characters, limit is %d", n, p.maxLength))
	}
	if !utf8.ValidString(content) {
		return chat.Invalid("message", "is not valid UTF-8")
	}
	return nil
}

// Ingest validates and persists a message. The returned message always
// carries a durable ID; on any error nothing was stored that may be
// broadcast.
func (p *Pipeline) Ingest(ctx context.Context, channelID, senderID, content string) (chat.Message, error) {
	if err := p.Validate(channelID, senderID, content); err != nil {
		return chat.Message{}, err
	}

	msg, err := p.store.CreateMessage(ctx, channelID, senderID, content)
	if err != nil {
		p.logger.Error("persist message",
			zap.String("channel_id", channelID),
			zap.String("sender_id", senderID),
			zap.Error(err),
		)
		return chat.Message{}, chat.Persistence("createMessage", err)
	}
	if msg.ID == "" {
		return chat.Message{}, chat.Persistence("createMessage", errors.New("store returned message without id"))
	}

	p.logger.Debug("message stored",
		zap.String("message_id", msg.ID),
		zap.String("channel_id", msg.ChannelID),
	)
	return msg, nil
}
