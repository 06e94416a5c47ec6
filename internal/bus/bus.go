// Package bus fans committed room updates out to every instance holding
// sockets for the room. The leader publishes once per commit; subscribers
// redact per viewer before delivery.
package bus

import (
	"context"
	"encoding/json"

	"github.com/nightcourt/mafiad/internal/engine"
	"github.com/nightcourt/mafiad/internal/store"
	"github.com/nightcourt/mafiad/internal/types"
)

// Publication is one committed room update: the full post-commit state plus
// the events the commit produced. Events-only publications (chat) leave
// StateChanged false so subscribers skip the per-viewer state fan-out.
//
// A publication may instead carry a session eviction, telling every instance
// to close its sockets for EvictSessionID. EvictExcept names the one
// connection the superseding login owns, which must survive.
type Publication struct {
	RoomID         string        `json:"roomId"`
	StateChanged   bool          `json:"stateChanged"`
	State          engine.State  `json:"state"`
	Events         []types.Event `json:"events"`
	EvictSessionID string        `json:"evictSessionId,omitempty"`
	EvictExcept    string        `json:"evictExcept,omitempty"`
}

type Bus interface {
	Publish(ctx context.Context, pub Publication) error
	// Subscribe delivers publications for one room until cancel is called.
	Subscribe(ctx context.Context, roomID string) (<-chan Publication, func(), error)
	Close() error
}

func roomChannel(roomID string) string { return "roompub:" + roomID }

// KVBus rides the KV's pub/sub. With RedisKV this spans instances; with
// MemoryKV it is process-local.
type KVBus struct {
	kv store.KV
}

func NewKVBus(kv store.KV) *KVBus {
	return &KVBus{kv: kv}
}

func (b *KVBus) Publish(ctx context.Context, pub Publication) error {
	raw, err := json.Marshal(pub)
	if err != nil {
		return err
	}
	return b.kv.Publish(ctx, roomChannel(pub.RoomID), raw)
}

func (b *KVBus) Subscribe(ctx context.Context, roomID string) (<-chan Publication, func(), error) {
	msgs, cancel, err := b.kv.Subscribe(ctx, roomChannel(roomID))
	if err != nil {
		return nil, nil, err
	}
	out := make(chan Publication, 16)
	go func() {
		defer close(out)
		for raw := range msgs {
			var pub Publication
			if err := json.Unmarshal(raw, &pub); err != nil {
				continue
			}
			select {
			case out <- pub:
			default:
			}
		}
	}()
	return out, cancel, nil
}

func (b *KVBus) Close() error { return nil }
