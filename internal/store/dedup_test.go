package store

import (
	"context"
	"encoding/json"
	"testing"
)

func TestDedupFreshClaim(t *testing.T) {
	ctx := context.Background()
	ds := NewDedupStore(NewMemoryKV())

	rec, err := ds.Begin(ctx, "room-1", "p1", "cmd-1")
	if err != nil {
		t.Fatal(err)
	}
	if rec != nil {
		t.Fatalf("fresh claim returned record %+v", rec)
	}
}

func TestDedupDuplicateWhileProcessing(t *testing.T) {
	ctx := context.Background()
	ds := NewDedupStore(NewMemoryKV())
	_, _ = ds.Begin(ctx, "room-1", "p1", "cmd-1")

	rec, err := ds.Begin(ctx, "room-1", "p1", "cmd-1")
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil || rec.Status != DedupProcessing {
		t.Fatalf("record = %+v, want processing", rec)
	}
}

func TestDedupReplaysCompletedResult(t *testing.T) {
	ctx := context.Background()
	ds := NewDedupStore(NewMemoryKV())
	_, _ = ds.Begin(ctx, "room-1", "p1", "cmd-1")

	result := map[string]string{"ack": "ok"}
	if err := ds.Complete(ctx, "room-1", "p1", "cmd-1", result); err != nil {
		t.Fatal(err)
	}

	rec, err := ds.Begin(ctx, "room-1", "p1", "cmd-1")
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil || rec.Status != DedupCompleted {
		t.Fatalf("record = %+v, want completed", rec)
	}
	var replayed map[string]string
	if err := json.Unmarshal(rec.Result, &replayed); err != nil {
		t.Fatal(err)
	}
	if replayed["ack"] != "ok" {
		t.Fatalf("replayed result = %v", replayed)
	}
}

func TestDedupScopedPerRoomAndPlayer(t *testing.T) {
	ctx := context.Background()
	ds := NewDedupStore(NewMemoryKV())
	_, _ = ds.Begin(ctx, "room-1", "p1", "cmd-1")

	if rec, err := ds.Begin(ctx, "room-2", "p1", "cmd-1"); err != nil || rec != nil {
		t.Fatalf("command id collided across rooms: rec=%+v err=%v", rec, err)
	}
	if rec, err := ds.Begin(ctx, "room-1", "p2", "cmd-1"); err != nil || rec != nil {
		t.Fatalf("command id collided across players: rec=%+v err=%v", rec, err)
	}
}

func TestDedupFailedRecord(t *testing.T) {
	ctx := context.Background()
	ds := NewDedupStore(NewMemoryKV())
	_, _ = ds.Begin(ctx, "room-1", "p1", "cmd-1")
	if err := ds.Fail(ctx, "room-1", "p1", "cmd-1", map[string]string{"code": "INTERNAL_ERROR"}); err != nil {
		t.Fatal(err)
	}
	rec, _ := ds.Begin(ctx, "room-1", "p1", "cmd-1")
	if rec == nil || rec.Status != DedupFailed {
		t.Fatalf("record = %+v, want failed", rec)
	}
}
