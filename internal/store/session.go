package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nightcourt/mafiad/internal/types"
)

// SessionTTL outlives RoomTTL slightly so a session never dangles past its
// room but a room never outlives all its sessions.
const SessionTTL = 25 * time.Hour

// Session binds a connection identity to a player in a room.
type Session struct {
	ID        string `json:"id"`
	RoomID    string `json:"roomId"`
	PlayerID  string `json:"playerId"`
	CreatedAt int64  `json:"createdAt"`
}

// SessionStore persists one session record per (player, room). Creating a
// new session overwrites the old one, which is how duplicate logins evict.
type SessionStore struct {
	kv KV
}

func NewSessionStore(kv KV) *SessionStore {
	return &SessionStore{kv: kv}
}

func sessionKey(playerID, roomID string) string {
	return "session:" + playerID + ":" + roomID
}

// Create issues a new session for a player. If the player already had one,
// its id is returned so the transport can close the stale socket.
func (ss *SessionStore) Create(ctx context.Context, roomID, playerID string) (Session, string, error) {
	evicted := ""
	if old, err := ss.load(ctx, roomID, playerID); err == nil {
		evicted = old.ID
	} else if !errors.Is(err, ErrNotFound) {
		return Session{}, "", err
	}

	sess := Session{
		ID:        types.NewID(),
		RoomID:    roomID,
		PlayerID:  playerID,
		CreatedAt: time.Now().UnixMilli(),
	}
	b, err := json.Marshal(sess)
	if err != nil {
		return Session{}, "", err
	}
	if err := ss.kv.Set(ctx, sessionKey(playerID, roomID), b, SessionTTL); err != nil {
		return Session{}, "", err
	}
	return sess, evicted, nil
}

func (ss *SessionStore) load(ctx context.Context, roomID, playerID string) (Session, error) {
	b, err := ss.kv.Get(ctx, sessionKey(playerID, roomID))
	if err != nil {
		return Session{}, err
	}
	var sess Session
	if err := json.Unmarshal(b, &sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// Get loads the player's current session and checks it is still the one the
// caller presented. An evicted or unknown session resolves to UNAUTHORIZED.
func (ss *SessionStore) Get(ctx context.Context, roomID, playerID, sessionID string) (Session, error) {
	sess, err := ss.load(ctx, roomID, playerID)
	if errors.Is(err, ErrNotFound) {
		return Session{}, types.Unauthorized("unknown session")
	}
	if err != nil {
		return Session{}, err
	}
	if sess.ID != sessionID {
		return Session{}, types.Unauthorized("session superseded by a newer login")
	}
	return sess, nil
}

// Touch refreshes the session TTL on activity.
func (ss *SessionStore) Touch(ctx context.Context, sess Session) error {
	return ss.kv.Expire(ctx, sessionKey(sess.PlayerID, sess.RoomID), SessionTTL)
}

// Delete removes the session, unless a newer login already replaced it.
func (ss *SessionStore) Delete(ctx context.Context, sess Session) error {
	current, err := ss.load(ctx, sess.RoomID, sess.PlayerID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if current.ID != sess.ID {
		return nil
	}
	return ss.kv.Del(ctx, sessionKey(sess.PlayerID, sess.RoomID))
}
