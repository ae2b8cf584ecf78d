// Package redis is the Redis broker of the development backend and of the
// client's refresh notices. Session frames and refresh notices travel on
// separate channels; see channels.go.
package redis

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

const defaultBufferSize = 64

type Options struct {
	Addr     string
	Password string
	DB       int
	// BufferSize bounds the frames queued per subscriber. A slow websocket
	// writer blocks its own subscription only. Zero means 64.
	BufferSize int
}

func (o Options) withDefaults() Options {
	if o.BufferSize <= 0 {
		o.BufferSize = defaultBufferSize
	}
	return o
}

// PubSub carries session frames and refresh notices over Redis pub/sub.
type PubSub struct {
	client *redis.Client
	buffer int
}

// New connects and pings the server.
func New(ctx context.Context, opts Options) (*PubSub, error) {
	opts = opts.withDefaults()
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis.New: ping %s: %w", opts.Addr, err)
	}

	return &PubSub{client: client, buffer: opts.BufferSize}, nil
}

func (ps *PubSub) Close() error {
	if err := ps.client.Close(); err != nil {
		return fmt.Errorf("redis.PubSub.Close: %w", err)
	}
	return nil
}

func (ps *PubSub) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ps.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis.PubSub.Publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns once Redis has confirmed the subscription, so a frame
// published after it returns is never missed. Payloads are forwarded in
// order until ctx is done or cleanup is called; the returned channel is
// then closed.
func (ps *PubSub) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	sub := ps.client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("redis.PubSub.Subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, ps.buffer)
	in := sub.Channel(redis.WithChannelSize(ps.buffer))
	stop := make(chan struct{})

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				case <-stop:
					return
				}
			}
		}
	}()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			close(stop)
			_ = sub.Close()
		})
	}
	return out, cleanup, nil
}
