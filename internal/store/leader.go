package store

import (
	"context"
	"time"
)

// Leader lease parameters. The renewal interval leaves two further chances
// inside the TTL before a healthy holder can lose the lease.
const (
	LeaseTTL      = 10 * time.Second
	RenewInterval = 3 * time.Second
)

// LeaderStore hands out per-room leases so exactly one instance runs a
// room's command loop at a time.
type LeaderStore struct {
	kv KV
}

func NewLeaderStore(kv KV) *LeaderStore {
	return &LeaderStore{kv: kv}
}

func leaderKey(roomID string) string { return "leader:" + roomID }

// Acquire attempts to take the lease for a room. Reports false when another
// instance currently holds it.
func (ls *LeaderStore) Acquire(ctx context.Context, roomID, instanceID string) (bool, error) {
	return ls.kv.SetNX(ctx, leaderKey(roomID), []byte(instanceID), LeaseTTL)
}

// Renew extends the lease, but only while this instance still holds it. A
// false return means the lease expired or moved; the caller must stop
// processing the room.
func (ls *LeaderStore) Renew(ctx context.Context, roomID, instanceID string) (bool, error) {
	return ls.kv.SetIfEquals(ctx, leaderKey(roomID), []byte(instanceID), []byte(instanceID), LeaseTTL)
}

// Release drops the lease if this instance still holds it.
func (ls *LeaderStore) Release(ctx context.Context, roomID, instanceID string) error {
	_, err := ls.kv.DelIfEquals(ctx, leaderKey(roomID), []byte(instanceID))
	return err
}

// Holder returns the instance currently holding the room lease, or "".
func (ls *LeaderStore) Holder(ctx context.Context, roomID string) (string, error) {
	b, err := ls.kv.Get(ctx, leaderKey(roomID))
	if err == ErrNotFound {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(b), nil
}
