package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/go-faker/faker/v4"
)

func TestMembersAndExclusion(t *testing.T) {
	ctx := context.Background()
	s := New()
	a, _ := s.AddMember(ctx, "general", "alice")
	again, _ := s.AddMember(ctx, "general", "alice")
	if a.ID != again.ID {
		t.Fatal("AddMember should be idempotent")
	}
	s.AddMember(ctx, "general", "bob")

	all, _ := s.FindMembers(ctx, "general", "")
	if len(all) != 2 {
		t.Fatalf("members = %d, want 2", len(all))
	}
	others, _ := s.FindMembers(ctx, "general", "alice")
	if len(others) != 1 || others[0].UserID != "bob" {
		t.Fatalf("others = %+v", others)
	}

	s.RemoveMember(ctx, "general", "bob")
	others, _ = s.FindMembers(ctx, "general", "alice")
	if len(others) != 0 {
		t.Fatalf("bob should be gone, got %+v", others)
	}
}

func TestSeenStatusIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New()
	for i := 0; i < 3; i++ {
		if _, err := s.CreateMessage(ctx, "general", "alice", faker.Sentence()); err != nil {
			t.Fatal(err)
		}
	}
	first := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	n, _ := s.UpdateSeenStatus(ctx, "bob", "general", first)
	if n != 3 {
		t.Fatalf("first update affected %d, want 3", n)
	}
	n, _ = s.UpdateSeenStatus(ctx, "bob", "general", first.Add(time.Hour))
	if n != 0 {
		t.Fatalf("second update affected %d, want 0", n)
	}
	for _, st := range s.SeenStatuses("bob", "general") {
		if st.SeenAt == nil || !st.SeenAt.Equal(first) {
			t.Fatalf("seenAt = %v, want %v", st.SeenAt, first)
		}
	}
}

func TestCountUnreadAndHistory(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.CreateMessage(ctx, "general", "alice", "one")
	s.CreateMessage(ctx, "general", "bob", "two")
	s.CreateMessage(ctx, "general", "alice", "three")

	if n, _ := s.CountUnread(ctx, "bob", "general"); n != 2 {
		t.Fatalf("bob unread = %d, want 2", n)
	}
	s.UpdateSeenStatus(ctx, "bob", "general", time.Now())
	if n, _ := s.CountUnread(ctx, "bob", "general"); n != 0 {
		t.Fatalf("bob unread after read = %d", n)
	}

	last, _ := s.ListMessages(ctx, "general", 2)
	if len(last) != 2 || last[0].Content != "two" || last[1].Content != "three" {
		t.Fatalf("history = %+v", last)
	}
}
