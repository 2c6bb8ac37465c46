package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-faker/faker/v4"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zoravur/realtime-chat/pkg/fixgres"
)

func TestMain(m *testing.M) {
	code := m.Run()
	_ = fixgres.ShutdownNow()
	os.Exit(code)
}

func newStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres tests need docker")
	}
	sbx := fixgres.NewSandbox(t, fixgres.WithGooseUp(Migrations()))

	pool, err := pgxpool.New(context.Background(), sbx.DSN)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)
	return New(pool)
}

func TestCreateAndListMessages(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	var sent []string
	for i := 0; i < 4; i++ {
		text := faker.Sentence()
		msg, err := s.CreateMessage(ctx, "general", "alice", text)
		if err != nil {
			t.Fatalf("CreateMessage: %v", err)
		}
		if msg.ID == "" || msg.CreatedAt.IsZero() || msg.Content != text {
			t.Fatalf("message = %+v", msg)
		}
		sent = append(sent, text)
	}
	s.CreateMessage(ctx, "random", "alice", "elsewhere")

	got, err := s.ListMessages(ctx, "general", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("listed %d", len(got))
	}
	for i, m := range got {
		if m.Content != sent[i+1] {
			t.Fatalf("message %d = %q, want %q", i, m.Content, sent[i+1])
		}
	}
}

func TestMembers(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	first, err := s.AddMember(ctx, "general", "alice")
	if err != nil {
		t.Fatal(err)
	}
	again, err := s.AddMember(ctx, "general", "alice")
	if err != nil || again.ID != first.ID {
		t.Fatalf("AddMember not idempotent: %+v vs %+v (%v)", first, again, err)
	}
	s.AddMember(ctx, "general", "bob")
	s.AddMember(ctx, "random", "carol")

	others, err := s.FindMembers(ctx, "general", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(others) != 1 || others[0].UserID != "bob" {
		t.Fatalf("others = %+v", others)
	}

	if err := s.RemoveMember(ctx, "general", "bob"); err != nil {
		t.Fatal(err)
	}
	if others, _ := s.FindMembers(ctx, "general", "alice"); len(others) != 0 {
		t.Fatalf("bob should be gone: %+v", others)
	}
}

func TestSeenStatusAndUnread(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	for _, who := range []string{"alice", "alice", "bob", "alice"} {
		if _, err := s.CreateMessage(ctx, "general", who, faker.Word()); err != nil {
			t.Fatal(err)
		}
	}

	if n, err := s.CountUnread(ctx, "bob", "general"); err != nil || n != 3 {
		t.Fatalf("unread = %d, %v", n, err)
	}

	first := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	n, err := s.UpdateSeenStatus(ctx, "bob", "general", first)
	if err != nil || n != 4 {
		t.Fatalf("first update = %d, %v", n, err)
	}
	n, err = s.UpdateSeenStatus(ctx, "bob", "general", first.Add(time.Hour))
	if err != nil || n != 0 {
		t.Fatalf("second update = %d, %v", n, err)
	}

	statuses, err := s.SeenStatuses(ctx, "bob", "general")
	if err != nil {
		t.Fatal(err)
	}
	for _, st := range statuses {
		if st.SeenAt == nil || !st.SeenAt.Equal(first) {
			t.Fatalf("seen_at for %s = %v, want %v", st.MessageID, st.SeenAt, first)
		}
	}
	if n, _ := s.CountUnread(ctx, "bob", "general"); n != 0 {
		t.Fatalf("unread after read = %d", n)
	}

	// A new message after the read shows up as unread and is the only
	// one the next read touches.
	s.CreateMessage(ctx, "general", "alice", "late")
	if n, _ := s.CountUnread(ctx, "bob", "general"); n != 1 {
		t.Fatalf("unread = %d, want 1", n)
	}
	if n, _ := s.UpdateSeenStatus(ctx, "bob", "general", time.Now()); n != 1 {
		t.Fatalf("third update = %d, want 1", n)
	}
}
