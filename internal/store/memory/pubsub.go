package memory

import (
	"context"
	"sync"
)

const subscriberBuffer = 256

// PubSub is an in-process broker with the same surface as the Redis one.
// Publishing never blocks: a subscriber whose buffer is full misses the
// message.
type PubSub struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]chan []byte
}

func NewPubSub() *PubSub {
	return &PubSub{subs: make(map[string]map[uint64]chan []byte)}
}

func (ps *PubSub) Publish(_ context.Context, channel string, payload []byte) error {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	for _, ch := range ps.subs[channel] {
		msg := append([]byte(nil), payload...)
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe delivers messages published on channel until ctx is done or
// cleanup is called. The returned channel is closed afterwards.
func (ps *PubSub) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	ch := make(chan []byte, subscriberBuffer)

	ps.mu.Lock()
	ps.nextID++
	id := ps.nextID
	if ps.subs[channel] == nil {
		ps.subs[channel] = make(map[uint64]chan []byte)
	}
	ps.subs[channel][id] = ch
	ps.mu.Unlock()

	var once sync.Once
	stop := make(chan struct{})
	cleanup := func() {
		once.Do(func() {
			close(stop)
			ps.mu.Lock()
			delete(ps.subs[channel], id)
			if len(ps.subs[channel]) == 0 {
				delete(ps.subs, channel)
			}
			ps.mu.Unlock()
			close(ch)
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			cleanup()
		case <-stop:
		}
	}()

	return ch, cleanup, nil
}

func (ps *PubSub) Close() error { return nil }
