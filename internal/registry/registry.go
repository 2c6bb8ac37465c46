// Package registry tracks live connections and the topics each one is
// subscribed to, and fans published events out to topic subscribers.
package registry

import (
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// ErrConnClosed is returned by Conn.Send once the connection is gone.
var ErrConnClosed = errors.New("registry: connection closed")

// Conn abstracts a client link so the registry never touches the
// transport directly. Send must not block.
type Conn interface {
	ID() string
	Send(event string, payload any) error
}

type entry struct {
	conn   Conn
	topics map[string]struct{}
}

type Registry struct {
	mu     sync.RWMutex
	topics map[string]map[string]Conn // topic -> conn id -> conn
	conns  map[string]*entry
	logger *zap.Logger
}

func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		topics: make(map[string]map[string]Conn),
		conns:  make(map[string]*entry),
		logger: logger,
	}
}

// Register makes a connection known without subscribing it to anything.
func (r *Registry) Register(c Conn) {
	r.mu.Lock()
	r.register(c)
	r.mu.Unlock()
}

func (r *Registry) register(c Conn) *entry {
	e, ok := r.conns[c.ID()]
	if !ok {
		e = &entry{conn: c, topics: make(map[string]struct{})}
		r.conns[c.ID()] = e
	}
	return e
}

// Subscribe adds topic to the connection's active set. It reports whether
// the subscription is new; repeating it is a no-op.
func (r *Registry) Subscribe(c Conn, topic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.register(c)
	if _, ok := e.topics[topic]; ok {
		return false
	}
	e.topics[topic] = struct{}{}

	subs := r.topics[topic]
	if subs == nil {
		subs = make(map[string]Conn)
		r.topics[topic] = subs
	}
	subs[c.ID()] = c
	return true
}

// Unsubscribe removes a single topic from a connection.
func (r *Registry) Unsubscribe(connID, topic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connID]
	if !ok {
		return false
	}
	if _, ok := e.topics[topic]; !ok {
		return false
	}
	delete(e.topics, topic)
	r.dropSubscriber(topic, connID)
	return true
}

// UnsubscribeAll forgets the connection and every topic it was part of.
// It returns the topics that were removed.
func (r *Registry) UnsubscribeAll(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connID]
	if !ok {
		return nil
	}
	removed := make([]string, 0, len(e.topics))
	for topic := range e.topics {
		r.dropSubscriber(topic, connID)
		removed = append(removed, topic)
	}
	delete(r.conns, connID)
	sort.Strings(removed)
	return removed
}

// caller holds r.mu
func (r *Registry) dropSubscriber(topic, connID string) {
	subs := r.topics[topic]
	delete(subs, connID)
	if len(subs) == 0 {
		delete(r.topics, topic)
	}
}

// Publish delivers event to every connection subscribed to topic at the
// time of the call and returns how many accepted it. Delivery happens on a
// snapshot taken under the read lock, after the lock is released.
func (r *Registry) Publish(topic, event string, payload any) int {
	targets := r.snapshot(topic)
	delivered := 0
	for _, c := range targets {
		if err := c.Send(event, payload); err != nil {
			if !errors.Is(err, ErrConnClosed) {
				r.logger.Warn("event dropped",
					zap.String("topic", topic),
					zap.String("event", event),
					zap.String("conn_id", c.ID()),
					zap.Error(err),
				)
			}
			continue
		}
		delivered++
	}
	r.logger.Debug("published",
		zap.String("topic", topic),
		zap.String("event", event),
		zap.Int("subscribers", len(targets)),
		zap.Int("delivered", delivered),
	)
	return delivered
}

func (r *Registry) snapshot(topic string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	subs := r.topics[topic]
	out := make([]Conn, 0, len(subs))
	for _, c := range subs {
		out = append(out, c)
	}
	return out
}

// Subscribers lists the IDs of connections subscribed to topic.
func (r *Registry) Subscribers(topic string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.topics[topic]))
	for id := range r.topics[topic] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Topics lists the topics a connection is subscribed to.
func (r *Registry) Topics(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[connID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(e.topics))
	for t := range e.topics {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

type TopicStats struct {
	Topic       string `json:"topic"`
	Subscribers int    `json:"subscribers"`
}

type Stats struct {
	Connections int          `json:"connections"`
	Topics      []TopicStats `json:"topics"`
}

// Snapshot reports connection and per-topic subscriber counts.
func (r *Registry) Snapshot() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := Stats{
		Connections: len(r.conns),
		Topics:      make([]TopicStats, 0, len(r.topics)),
	}
	for topic, subs := range r.topics {
		st.Topics = append(st.Topics, TopicStats{Topic: topic, Subscribers: len(subs)})
	}
	sort.Slice(st.Topics, func(i, j int) bool { return st.Topics[i].Topic < st.Topics[j].Topic })
	return st
}

// Reset drops every connection and subscription.
func (r *Registry) Reset() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.conns)
	r.topics = make(map[string]map[string]Conn)
	r.conns = make(map[string]*entry)
	return n
}
