package store

import (
	"bytes"
	"context"
	"sync"
	"time"
)

// MemoryKV is an in-process KV with the same semantics as RedisKV. It backs
// single-node deployments and every store test.
type MemoryKV struct {
	mu   sync.Mutex
	data map[string]memEntry
	subs map[string][]chan []byte
}

type memEntry struct {
	val       []byte
	list      [][]byte
	expiresAt time.Time // zero means no expiry
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{
		data: map[string]memEntry{},
		subs: map[string][]chan []byte{},
	}
}

func (m *MemoryKV) live(key string) (memEntry, bool) {
	e, ok := m.data[key]
	if !ok {
		return memEntry{}, false
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		delete(m.data, key)
		return memEntry{}, false
	}
	return e, true
}

func deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}

func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok || e.val == nil {
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.val...), nil
}

func (m *MemoryKV) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = memEntry{val: append([]byte(nil), val...), expiresAt: deadline(ttl)}
	return nil
}

func (m *MemoryKV) SetNX(_ context.Context, key string, val []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live(key); ok {
		return false, nil
	}
	m.data[key] = memEntry{val: append([]byte(nil), val...), expiresAt: deadline(ttl)}
	return true, nil
}

func (m *MemoryKV) SetIfEquals(_ context.Context, key string, expect, val []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok || !bytes.Equal(e.val, expect) {
		return false, nil
	}
	m.data[key] = memEntry{val: append([]byte(nil), val...), expiresAt: deadline(ttl)}
	return true, nil
}

func (m *MemoryKV) DelIfEquals(_ context.Context, key string, expect []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok || !bytes.Equal(e.val, expect) {
		return false, nil
	}
	delete(m.data, key)
	return true, nil
}

func (m *MemoryKV) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *MemoryKV) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.live(key); ok {
		e.expiresAt = deadline(ttl)
		m.data[key] = e
	}
	return nil
}

func (m *MemoryKV) Update(_ context.Context, key string, ttl time.Duration, fn func(old []byte) ([]byte, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var old []byte
	if e, ok := m.live(key); ok {
		old = append([]byte(nil), e.val...)
	}
	next, err := fn(old)
	if err != nil {
		return err
	}
	m.data[key] = memEntry{val: next, expiresAt: deadline(ttl)}
	return nil
}

func (m *MemoryKV) Append(_ context.Context, key string, val []byte, max int64, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, _ := m.live(key)
	e.list = append(e.list, append([]byte(nil), val...))
	if int64(len(e.list)) > max {
		e.list = e.list[int64(len(e.list))-max:]
	}
	if ttl > 0 {
		e.expiresAt = deadline(ttl)
	}
	m.data[key] = e
	return nil
}

func (m *MemoryKV) List(_ context.Context, key string) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok {
		return nil, nil
	}
	out := make([][]byte, len(e.list))
	for i, v := range e.list {
		out[i] = append([]byte(nil), v...)
	}
	return out, nil
}

// Publish sends under the lock so a concurrent cancel cannot close a
// channel mid-send. Sends never block; a full subscriber drops the message.
func (m *MemoryKV) Publish(_ context.Context, channel string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs[channel] {
		select {
		case ch <- append([]byte(nil), payload...):
		default:
		}
	}
	return nil
}

func (m *MemoryKV) Subscribe(_ context.Context, channel string) (<-chan []byte, func(), error) {
	ch := make(chan []byte, 64)
	m.mu.Lock()
	m.subs[channel] = append(m.subs[channel], ch)
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		subs := m.subs[channel]
		for i, c := range subs {
			if c == ch {
				m.subs[channel] = append(subs[:i], subs[i+1:]...)
				close(c)
				return
			}
		}
	}
	return ch, cancel, nil
}

func (m *MemoryKV) Close() error { return nil }
