package relay

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"
)

type delivery struct {
	topic, event string
	payload      any
}

type sink struct {
	mu  sync.Mutex
	got []delivery
}

func (s *sink) Publish(topic, event string, payload any) int {
	s.mu.Lock()
	s.got = append(s.got, delivery{topic, event, payload})
	s.mu.Unlock()
	return 1
}

func (s *sink) snapshot() []delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]delivery(nil), s.got...)
}

func startNode(t *testing.T, ctx context.Context, addr, node string) (*Redis, *sink) {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })

	local := &sink{}
	r := NewRedis(client, local, node, zaptest.NewLogger(t))
	go r.Run(ctx)
	select {
	case <-r.Ready():
	case <-time.After(2 * time.Second):
		t.Fatalf("%s never subscribed", node)
	}
	return r, local
}

func waitLen(t *testing.T, s *sink, n int) []delivery {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		got := s.snapshot()
		if len(got) >= n {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatalf("got %d deliveries, want %d", len(got), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRelayCrossNode(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	one, local1 := startNode(t, ctx, mr.Addr(), "node-1")
	_, local2 := startNode(t, ctx, mr.Addr(), "node-2")

	payload := map[string]string{"channelId": "general"}
	if err := one.Publish(ctx, "user:bob", "unreadCountUpdated", payload); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	remote := waitLen(t, local2, 1)
	if remote[0].topic != "user:bob" || remote[0].event != "unreadCountUpdated" {
		t.Fatalf("remote delivery = %+v", remote[0])
	}
	var decoded map[string]string
	if err := json.Unmarshal(remote[0].payload.(json.RawMessage), &decoded); err != nil || decoded["channelId"] != "general" {
		t.Fatalf("payload = %s (%v)", remote[0].payload, err)
	}

	// Give node-1 a chance to see its own echo; it must be ignored.
	time.Sleep(50 * time.Millisecond)
	if got := local1.snapshot(); len(got) != 1 {
		t.Fatalf("origin node delivered %d times, want 1", len(got))
	}
}

func TestRelayKeepsOrder(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	one, _ := startNode(t, ctx, mr.Addr(), "node-1")
	_, local2 := startNode(t, ctx, mr.Addr(), "node-2")

	events := []string{"newMessage", "unreadCountUpdated", "messagesSeen"}
	for _, e := range events {
		one.Publish(ctx, "general", e, struct{}{})
	}
	got := waitLen(t, local2, len(events))
	for i, e := range events {
		if got[i].event != e {
			t.Fatalf("event %d = %s, want %s", i, got[i].event, e)
		}
	}
}

func TestRelayPublishSurvivesRedisOutage(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	local := &sink{}
	r := NewRedis(client, local, "node-1", zaptest.NewLogger(t))

	mr.Close()
	err := r.Publish(context.Background(), "general", "newMessage", struct{}{})
	if err == nil {
		t.Fatal("expected the redis error to be reported")
	}
	if len(local.snapshot()) != 1 {
		t.Fatal("local delivery must happen even when redis is down")
	}
}
