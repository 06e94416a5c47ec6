// Package store is the persistence layer: a small KV abstraction with a
// Redis implementation for production and an in-memory one for tests and
// single-node runs, plus the typed stores (rooms, sessions, leader leases,
// command dedup) built on top of it.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned for missing keys.
	ErrNotFound = errors.New("store: key not found")
	// ErrWriteConflict is returned when an optimistic update loses the race.
	ErrWriteConflict = errors.New("store: write conflict")
)

// KV is the subset of a Redis-shaped store the typed stores need. A zero
// ttl means no expiry.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	// SetNX sets key only if absent. Reports whether the write happened.
	SetNX(ctx context.Context, key string, val []byte, ttl time.Duration) (bool, error)
	// SetIfEquals atomically replaces the value only while it still equals
	// expect, refreshing the ttl. Reports whether the swap happened.
	SetIfEquals(ctx context.Context, key string, expect, val []byte, ttl time.Duration) (bool, error)
	// DelIfEquals atomically deletes key only while its value equals expect.
	DelIfEquals(ctx context.Context, key string, expect []byte) (bool, error)
	Del(ctx context.Context, keys ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Update runs one optimistic read-modify-write cycle: fn receives the
	// current value (nil when absent) and returns the replacement. A
	// concurrent writer surfaces as ErrWriteConflict; callers retry.
	Update(ctx context.Context, key string, ttl time.Duration, fn func(old []byte) ([]byte, error)) error

	// Append pushes val onto the list at key, trimming it to the most
	// recent max entries.
	Append(ctx context.Context, key string, val []byte, max int64, ttl time.Duration) error
	// List returns the list at key, oldest first.
	List(ctx context.Context, key string) ([][]byte, error)

	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe delivers messages on channel until cancel is called or ctx
	// ends. Slow consumers may drop messages.
	Subscribe(ctx context.Context, channel string) (msgs <-chan []byte, cancel func(), err error)

	Close() error
}
