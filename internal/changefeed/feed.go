// Package changefeed carries "document at path changed" notifications between
// processes sharing one Postgres document store.
package changefeed

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the Redis pub/sub channel used when none is configured.
const DefaultChannel = "classattend:changes"

// Feed is the abstraction over different backends.
type Feed interface {
	Publish(ctx context.Context, path string) error
	Listen(ctx context.Context) (<-chan string, error)
}

// InMemory delivers notifications to listeners in the same process.
type InMemory struct {
	mu        sync.Mutex
	listeners map[chan string]chan struct{}
	size      int
}

// NewInMemory creates a feed whose listeners buffer up to size paths.
func NewInMemory(size int) *InMemory {
	if size <= 0 {
		size = 64
	}
	return &InMemory{listeners: make(map[chan string]chan struct{}), size: size}
}

// Publish hands path to every listener.
func (f *InMemory) Publish(ctx context.Context, path string) error {
	f.mu.Lock()
	targets := make(map[chan string]chan struct{}, len(f.listeners))
	for ch, done := range f.listeners {
		targets[ch] = done
	}
	f.mu.Unlock()

	for ch, done := range targets {
		select {
		case ch <- path:
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Listen returns a channel of changed paths, closed when ctx ends.
func (f *InMemory) Listen(ctx context.Context) (<-chan string, error) {
	in := make(chan string, f.size)
	done := make(chan struct{})
	f.mu.Lock()
	f.listeners[in] = done
	f.mu.Unlock()

	out := make(chan string)
	go func() {
		defer close(out)
		defer func() {
			f.mu.Lock()
			delete(f.listeners, in)
			f.mu.Unlock()
			close(done)
		}()
		for {
			select {
			case p := <-in:
				select {
				case out <- p:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Redis fans notifications out over a pub/sub channel.
type Redis struct {
	client  *redis.Client
	channel string
}

// NewRedisClient connects to redis with short timeouts.
func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
}

// NewRedis builds a feed on the given channel.
func NewRedis(client *redis.Client, channel string) *Redis {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Redis{client: client, channel: channel}
}

// Publish announces a changed path.
func (f *Redis) Publish(ctx context.Context, path string) error {
	return f.client.Publish(ctx, f.channel, path).Err()
}

// Listen subscribes to the channel until ctx ends.
func (f *Redis) Listen(ctx context.Context) (<-chan string, error) {
	ps := f.client.Subscribe(ctx, f.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	msgs := ps.Channel()
	out := make(chan string)
	go func() {
		defer close(out)
		defer ps.Close()
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Healthy verifies redis connectivity.
func Healthy(ctx context.Context, client *redis.Client) bool {
	if client == nil {
		return false
	}
	return client.Ping(ctx).Err() == nil
}
