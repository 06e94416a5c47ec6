package store

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nightcourt/mafiad/internal/engine"
	"github.com/nightcourt/mafiad/internal/types"
)

// Room codes avoid 0/O, 1/I/L to stay readable over voice.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
const codeLength = 6

// RoomTTL is the idle lifetime of a room; every committed write refreshes it.
const RoomTTL = 24 * time.Hour

// MaxStoredEvents caps the per-room event stream used for reconnect replay.
const MaxStoredEvents = 50

const commitRetries = 3

var ErrVersionConflict = errors.New("store: room version conflict")

// NewRoomCode returns a random 6-character join code.
func NewRoomCode() string {
	b := make([]byte, codeLength)
	if _, err := rand.Read(b); err != nil {
		panic("store: crypto/rand failed: " + err.Error())
	}
	for i := range b {
		b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}
	return string(b)
}

// RoomStore persists authoritative room state as one JSON document per room
// plus a code index and a capped event stream.
type RoomStore struct {
	kv KV
}

func NewRoomStore(kv KV) *RoomStore {
	return &RoomStore{kv: kv}
}

func roomKey(roomID string) string   { return "room:" + roomID }
func codeKey(code string) string     { return "room_code:" + code }
func eventsKey(roomID string) string { return "room:" + roomID + ":events" }

// Create allocates a fresh room for the host and reserves a unique join
// code. The code reservation is the atomicity point: a collision retries
// with a new code, and a failed state write releases the reservation.
func (rs *RoomStore) Create(ctx context.Context, hostID, hostName string) (engine.State, error) {
	roomID := types.NewID()

	var code string
	for attempt := 0; ; attempt++ {
		code = NewRoomCode()
		ok, err := rs.kv.SetNX(ctx, codeKey(code), []byte(roomID), RoomTTL)
		if err != nil {
			return engine.State{}, fmt.Errorf("reserve code: %w", err)
		}
		if ok {
			break
		}
		if attempt >= 10 {
			return engine.State{}, errors.New("store: could not allocate a unique room code")
		}
	}

	state := engine.NewState(roomID, code, hostID, hostName)
	raw, err := engine.Marshal(state)
	if err != nil {
		return engine.State{}, err
	}
	if err := rs.kv.Set(ctx, roomKey(roomID), raw, RoomTTL); err != nil {
		_, _ = rs.kv.DelIfEquals(ctx, codeKey(code), []byte(roomID))
		return engine.State{}, fmt.Errorf("write room: %w", err)
	}
	return state, nil
}

// FindByCode resolves a join code to a room id.
func (rs *RoomStore) FindByCode(ctx context.Context, code string) (string, error) {
	b, err := rs.kv.Get(ctx, codeKey(code))
	if errors.Is(err, ErrNotFound) {
		return "", types.NewGameError(types.ErrRoomNotFound, "no room with that code", false)
	}
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Get loads the authoritative state for a room.
func (rs *RoomStore) Get(ctx context.Context, roomID string) (engine.State, error) {
	b, err := rs.kv.Get(ctx, roomKey(roomID))
	if errors.Is(err, ErrNotFound) {
		return engine.State{}, types.NewGameError(types.ErrRoomNotFound, "room not found", false)
	}
	if err != nil {
		return engine.State{}, err
	}
	return engine.Unmarshal(b)
}

// Update runs fn inside an optimistic read-modify-write on the room
// document, retrying a few times on conflict. The committed state always
// passes Validate. The host id is immutable for the room's lifetime: a
// mutation that changed it fails the commit, and one that blanked it gets
// the prior host restored before validation.
func (rs *RoomStore) Update(ctx context.Context, roomID string, fn func(s *engine.State) error) (engine.State, error) {
	var committed engine.State
	for attempt := 0; attempt < commitRetries; attempt++ {
		err := rs.kv.Update(ctx, roomKey(roomID), RoomTTL, func(old []byte) ([]byte, error) {
			if old == nil {
				return nil, types.NewGameError(types.ErrRoomNotFound, "room not found", false)
			}
			s, err := engine.Unmarshal(old)
			if err != nil {
				return nil, err
			}
			priorHost := s.HostID
			if err := fn(&s); err != nil {
				return nil, err
			}
			if s.HostID != priorHost && s.HostID != "" {
				return nil, types.NewGameError(types.ErrInternal, "hostId changed in commit", false)
			}
			s.HostID = priorHost
			if err := s.Validate(); err != nil {
				return nil, err
			}
			committed = s
			return engine.Marshal(s)
		})
		if errors.Is(err, ErrWriteConflict) {
			continue
		}
		if err != nil {
			return engine.State{}, err
		}
		return committed, nil
	}
	return engine.State{}, ErrVersionConflict
}

// Delete removes the room document, its code index, and its event stream.
func (rs *RoomStore) Delete(ctx context.Context, roomID, code string) error {
	return rs.kv.Del(ctx, roomKey(roomID), codeKey(code), eventsKey(roomID))
}

// AppendEvents records committed events for reconnect replay, keeping the
// most recent MaxStoredEvents.
func (rs *RoomStore) AppendEvents(ctx context.Context, roomID string, events []types.Event) error {
	for _, ev := range events {
		b, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if err := rs.kv.Append(ctx, eventsKey(roomID), b, MaxStoredEvents, RoomTTL); err != nil {
			return err
		}
	}
	return nil
}

// RecentEvents returns the stored event tail, oldest first.
func (rs *RoomStore) RecentEvents(ctx context.Context, roomID string) ([]types.Event, error) {
	raw, err := rs.kv.List(ctx, eventsKey(roomID))
	if err != nil {
		return nil, err
	}
	out := make([]types.Event, 0, len(raw))
	for _, b := range raw {
		var ev types.Event
		if err := json.Unmarshal(b, &ev); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}
