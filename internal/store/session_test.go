package store

import (
	"context"
	"testing"

	"github.com/nightcourt/mafiad/internal/types"
)

func TestSessionCreateAndGet(t *testing.T) {
	ctx := context.Background()
	ss := NewSessionStore(NewMemoryKV())

	sess, evicted, err := ss.Create(ctx, "room-1", "p1")
	if err != nil {
		t.Fatal(err)
	}
	if evicted != "" {
		t.Fatalf("evicted = %q on first login", evicted)
	}
	if sess.RoomID != "room-1" || sess.PlayerID != "p1" || sess.ID == "" {
		t.Fatalf("session = %+v", sess)
	}

	got, err := ss.Get(ctx, "room-1", "p1", sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got != sess {
		t.Fatalf("Get = %+v, want %+v", got, sess)
	}
}

func TestSessionDuplicateLoginEvictsOld(t *testing.T) {
	ctx := context.Background()
	ss := NewSessionStore(NewMemoryKV())

	first, _, err := ss.Create(ctx, "room-1", "p1")
	if err != nil {
		t.Fatal(err)
	}
	second, evicted, err := ss.Create(ctx, "room-1", "p1")
	if err != nil {
		t.Fatal(err)
	}
	if evicted != first.ID {
		t.Fatalf("evicted = %q, want %q", evicted, first.ID)
	}
	if _, err := ss.Get(ctx, "room-1", "p1", first.ID); types.AsGameError(err).Code != types.ErrUnauthorized {
		t.Fatal("evicted session still resolvable")
	}
	if _, err := ss.Get(ctx, "room-1", "p1", second.ID); err != nil {
		t.Fatalf("new session unreadable: %v", err)
	}
}

func TestSessionSamePlayerDifferentRooms(t *testing.T) {
	ctx := context.Background()
	ss := NewSessionStore(NewMemoryKV())

	a, _, _ := ss.Create(ctx, "room-1", "p1")
	b, evicted, _ := ss.Create(ctx, "room-2", "p1")
	if evicted != "" {
		t.Fatal("session in another room evicted")
	}
	for _, sess := range []Session{a, b} {
		if _, err := ss.Get(ctx, sess.RoomID, sess.PlayerID, sess.ID); err != nil {
			t.Fatalf("session %s unreadable: %v", sess.ID, err)
		}
	}
}

func TestSessionDelete(t *testing.T) {
	ctx := context.Background()
	ss := NewSessionStore(NewMemoryKV())

	sess, _, _ := ss.Create(ctx, "room-1", "p1")
	if err := ss.Delete(ctx, sess); err != nil {
		t.Fatal(err)
	}
	if _, err := ss.Get(ctx, "room-1", "p1", sess.ID); err == nil {
		t.Fatal("deleted session still resolvable")
	}
	// A fresh login after delete is not an eviction.
	if _, evicted, _ := ss.Create(ctx, "room-1", "p1"); evicted != "" {
		t.Fatalf("evicted = %q after delete", evicted)
	}
}

func TestSessionDeleteSkipsNewerLogin(t *testing.T) {
	ctx := context.Background()
	ss := NewSessionStore(NewMemoryKV())

	old, _, _ := ss.Create(ctx, "room-1", "p1")
	replacement, _, _ := ss.Create(ctx, "room-1", "p1")

	if err := ss.Delete(ctx, old); err != nil {
		t.Fatal(err)
	}
	if _, err := ss.Get(ctx, "room-1", "p1", replacement.ID); err != nil {
		t.Fatalf("replacement session removed by stale delete: %v", err)
	}
}
