// Package relay mirrors registry publishes across server nodes through
// Redis pub/sub so a client connected to any node sees every event.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const channelPrefix = "chat:topic:"

// Local is the in-process registry events are delivered to.
type Local interface {
	Publish(topic, event string, payload any) int
}

type envelope struct {
	Node    string          `json:"node"`
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Redis delivers every publish locally first and then mirrors it to Redis.
// Events coming back from Redis are delivered locally unless this node
// sent them.
type Redis struct {
	client *redis.Client
	local  Local
	nodeID string
	logger *zap.Logger

	readyOnce sync.Once
	ready     chan struct{}
}

func NewRedis(client *redis.Client, local Local, nodeID string, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{
		client: client,
		local:  local,
		nodeID: nodeID,
		logger: logger.With(zap.String("node", nodeID)),
		ready:  make(chan struct{}),
	}
}

// Ready is closed once the Redis subscription is confirmed.
func (r *Redis) Ready() <-chan struct{} { return r.ready }

func (r *Redis) Publish(ctx context.Context, topic, event string, payload any) error {
	r.local.Publish(topic, event, payload)

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("relay: encode %s payload: %w", event, err)
	}
	b, err := json.Marshal(envelope{Node: r.nodeID, Topic: topic, Event: event, Payload: raw})
	if err != nil {
		return fmt.Errorf("relay: encode envelope: %w", err)
	}
	if err := r.client.Publish(ctx, channelPrefix+topic, b).Err(); err != nil {
		return fmt.Errorf("relay: publish %s to %s: %w", event, topic, err)
	}
	return nil
}

// Run subscribes to every topic channel and feeds remote events into the
// local registry until ctx is done. Delivery is sequential, so events keep
// the order Redis hands them over in.
func (r *Redis) Run(ctx context.Context) error {
	ps := r.client.PSubscribe(ctx, channelPrefix+"*")
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("relay: subscribe: %w", err)
	}
	r.readyOnce.Do(func() { close(r.ready) })
	r.logger.Info("relay subscribed", zap.String("pattern", channelPrefix+"*"))

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.deliver(msg)
		}
	}
}

func (r *Redis) deliver(msg *redis.Message) {
	var env envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		r.logger.Warn("relay: bad envelope", zap.String("channel", msg.Channel), zap.Error(err))
		return
	}
	if env.Node == r.nodeID {
		return
	}
	topic := env.Topic
	if topic == "" {
		topic = strings.TrimPrefix(msg.Channel, channelPrefix)
	}
	n := r.local.Publish(topic, env.Event, env.Payload)
	r.logger.Debug("relayed",
		zap.String("from", env.Node),
		zap.String("topic", topic),
		zap.String("event", env.Event),
		zap.Int("delivered", n),
	)
}
