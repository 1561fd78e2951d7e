package killswitch

import (
	"context"
	"sync"
)

// MemoryBackend is an in-process Backend used for single-node deployments
// and tests. Semantics match the redis backend: last writer wins, publish
// fans out to every live subscriber.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string]string
	subs map[string][]chan []byte
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		data: make(map[string]string),
		subs: make(map[string][]chan []byte),
	}
}

// Get returns the value at key and whether it exists.
func (b *MemoryBackend) Get(_ context.Context, key string) (string, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.data[key]
	return v, ok, nil
}

// Set stores value at key.
func (b *MemoryBackend) Set(_ context.Context, key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = value
	return nil
}

// Delete removes key.
func (b *MemoryBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, key)
	return nil
}

// Publish fans payload out to every subscriber of the channel. Slow
// subscribers with a full buffer miss the message rather than block writers.
func (b *MemoryBackend) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe delivers channel payloads until ctx is cancelled.
func (b *MemoryBackend) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 64)
	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		live := b.subs[channel][:0]
		for _, c := range b.subs[channel] {
			if c != ch {
				live = append(live, c)
			}
		}
		b.subs[channel] = live
		close(ch)
	}()
	return ch, nil
}
