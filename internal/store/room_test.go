package store

import (
	"context"
	"strings"
	"testing"

	"github.com/nightcourt/mafiad/internal/engine"
	"github.com/nightcourt/mafiad/internal/types"
)

func TestNewRoomCode(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		code := NewRoomCode()
		if len(code) != 6 {
			t.Fatalf("code %q has length %d", code, len(code))
		}
		for _, c := range code {
			if !strings.ContainsRune(codeAlphabet, c) {
				t.Fatalf("code %q uses %q outside the alphabet", code, c)
			}
		}
		seen[code] = true
	}
	if len(seen) < 150 {
		t.Fatalf("only %d distinct codes in 200 draws", len(seen))
	}
}

func TestRoomCreateAndFind(t *testing.T) {
	ctx := context.Background()
	rs := NewRoomStore(NewMemoryKV())

	s, err := rs.Create(ctx, "h1", "Harper")
	if err != nil {
		t.Fatal(err)
	}
	if s.Phase != engine.PhaseLobby || s.HostID != "h1" {
		t.Fatalf("created state = %+v", s)
	}

	roomID, err := rs.FindByCode(ctx, s.Code)
	if err != nil {
		t.Fatal(err)
	}
	if roomID != s.RoomID {
		t.Fatalf("FindByCode = %s, want %s", roomID, s.RoomID)
	}

	got, err := rs.Get(ctx, s.RoomID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Code != s.Code || len(got.Players) != 1 {
		t.Fatalf("reloaded state = %+v", got)
	}
}

func TestRoomFindUnknownCode(t *testing.T) {
	rs := NewRoomStore(NewMemoryKV())
	_, err := rs.FindByCode(context.Background(), "ZZZZZZ")
	ge := types.AsGameError(err)
	if ge.Code != types.ErrRoomNotFound {
		t.Fatalf("code = %s, want ROOM_NOT_FOUND", ge.Code)
	}
}

func TestRoomUpdateCommitsMutation(t *testing.T) {
	ctx := context.Background()
	rs := NewRoomStore(NewMemoryKV())
	s, _ := rs.Create(ctx, "h1", "Harper")

	updated, err := rs.Update(ctx, s.RoomID, func(st *engine.State) error {
		engine.ApplyJoin(st, "p2", "Pat")
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(updated.Players) != 2 {
		t.Fatalf("players = %d, want 2", len(updated.Players))
	}

	reloaded, _ := rs.Get(ctx, s.RoomID)
	if len(reloaded.Players) != 2 {
		t.Fatal("mutation not persisted")
	}
}

func TestRoomUpdatePreservesHost(t *testing.T) {
	ctx := context.Background()
	rs := NewRoomStore(NewMemoryKV())
	s, _ := rs.Create(ctx, "h1", "Harper")

	got, err := rs.Update(ctx, s.RoomID, func(st *engine.State) error {
		st.HostID = ""
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.HostID != "h1" {
		t.Fatalf("hostId = %q, want preserved h1", got.HostID)
	}
}

func TestRoomUpdateRejectsHostChange(t *testing.T) {
	ctx := context.Background()
	rs := NewRoomStore(NewMemoryKV())
	s, _ := rs.Create(ctx, "h1", "Harper")

	_, err := rs.Update(ctx, s.RoomID, func(st *engine.State) error {
		engine.ApplyJoin(st, "p2", "Pat")
		st.HostID = "p2"
		return nil
	})
	if types.AsGameError(err).Code != types.ErrInternal {
		t.Fatalf("err = %v, want INTERNAL_ERROR", err)
	}

	reloaded, _ := rs.Get(ctx, s.RoomID)
	if reloaded.HostID != "h1" {
		t.Fatalf("hostId = %q, want h1", reloaded.HostID)
	}
	if len(reloaded.Players) != 1 {
		t.Fatal("rejected commit still persisted")
	}
}

func TestRoomUpdateRejectsInvalidState(t *testing.T) {
	ctx := context.Background()
	rs := NewRoomStore(NewMemoryKV())
	s, _ := rs.Create(ctx, "h1", "Harper")

	_, err := rs.Update(ctx, s.RoomID, func(st *engine.State) error {
		// Timer in the lobby violates the phase/timer invariant.
		st.Timer = &engine.Timer{Phase: engine.PhaseLobby, StartedAt: 1, EndsAt: 2}
		return nil
	})
	if err == nil {
		t.Fatal("invalid state committed")
	}

	reloaded, _ := rs.Get(ctx, s.RoomID)
	if reloaded.Timer != nil {
		t.Fatal("rejected write still persisted")
	}
}

func TestRoomUpdatePropagatesPolicyError(t *testing.T) {
	ctx := context.Background()
	rs := NewRoomStore(NewMemoryKV())
	s, _ := rs.Create(ctx, "h1", "Harper")

	_, err := rs.Update(ctx, s.RoomID, func(*engine.State) error {
		return types.NewGameError(types.ErrRoomFull, "room is full", false)
	})
	if types.AsGameError(err).Code != types.ErrRoomFull {
		t.Fatalf("err = %v, want ROOM_FULL", err)
	}
}

func TestRoomUpdateUnknownRoom(t *testing.T) {
	rs := NewRoomStore(NewMemoryKV())
	_, err := rs.Update(context.Background(), "missing", func(*engine.State) error { return nil })
	if types.AsGameError(err).Code != types.ErrRoomNotFound {
		t.Fatalf("err = %v, want ROOM_NOT_FOUND", err)
	}
}

func TestRoomDelete(t *testing.T) {
	ctx := context.Background()
	rs := NewRoomStore(NewMemoryKV())
	s, _ := rs.Create(ctx, "h1", "Harper")

	if err := rs.Delete(ctx, s.RoomID, s.Code); err != nil {
		t.Fatal(err)
	}
	if _, err := rs.Get(ctx, s.RoomID); types.AsGameError(err).Code != types.ErrRoomNotFound {
		t.Fatal("room still readable after delete")
	}
	if _, err := rs.FindByCode(ctx, s.Code); err == nil {
		t.Fatal("code still resolvable after delete")
	}
}

func TestRoomEventStreamIsCapped(t *testing.T) {
	ctx := context.Background()
	rs := NewRoomStore(NewMemoryKV())
	s, _ := rs.Create(ctx, "h1", "Harper")

	for i := 0; i < MaxStoredEvents+10; i++ {
		ev := types.Event{EventID: types.NewID(), RoomID: s.RoomID, Type: "chat.message", TimestampMs: int64(i)}
		if err := rs.AppendEvents(ctx, s.RoomID, []types.Event{ev}); err != nil {
			t.Fatal(err)
		}
	}

	events, err := rs.RecentEvents(ctx, s.RoomID)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != MaxStoredEvents {
		t.Fatalf("stored events = %d, want %d", len(events), MaxStoredEvents)
	}
	if events[0].TimestampMs != 10 {
		t.Fatalf("oldest kept event = %d, want 10", events[0].TimestampMs)
	}
	if events[len(events)-1].TimestampMs != int64(MaxStoredEvents+9) {
		t.Fatal("newest event missing")
	}
}
