// Package redis provides a broadcast medium over Redis Pub/Sub, for
// replicas running in separate processes. Every replica subscribes to the
// same channel; Redis delivers a publisher's own messages back to it, and
// the broadcaster drops those echoes by origin.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Medium implements broadcast.Medium on a Redis channel.
//
// Thread-safety: all methods are safe for concurrent use.
type Medium struct {
	client  *redis.Client
	owned   bool
	channel string
	pubsub  *redis.PubSub
	logger  *slog.Logger

	mu      sync.RWMutex
	handler func([]byte)

	closeOnce sync.Once
	done      chan struct{}
}

// Option configures a Medium.
type Option func(*Medium)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Medium) {
		if l != nil {
			m.logger = l
		}
	}
}

// Dial connects to the Redis server at url (redis://host:port/db), checks
// the connection and subscribes to channel. The client is closed with the
// medium.
func Dial(ctx context.Context, url, channel string, opts ...Option) (*Medium, error) {
	if url == "" {
		return nil, errors.New("redis url is required")
	}
	ropts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	client := redis.NewClient(ropts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	m, err := New(ctx, client, channel, opts...)
	if err != nil {
		client.Close()
		return nil, err
	}
	m.owned = true
	return m, nil
}

// New subscribes to channel on an existing client. The caller keeps
// ownership of the client.
func New(ctx context.Context, client *redis.Client, channel string, opts ...Option) (*Medium, error) {
	if channel == "" {
		return nil, errors.New("redis channel is required")
	}

	m := &Medium{
		client:  client,
		channel: channel,
		logger:  slog.Default(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.pubsub = client.Subscribe(ctx, channel)
	// Wait for the subscription confirmation so no post made after New
	// returns can be missed.
	if _, err := m.pubsub.Receive(ctx); err != nil {
		m.pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	go m.run(m.pubsub.Channel())
	return m, nil
}

// Post publishes data on the channel.
func (m *Medium) Post(ctx context.Context, data []byte) error {
	if err := m.client.Publish(ctx, m.channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", m.channel, err)
	}
	return nil
}

// OnMessage sets the receiver.
func (m *Medium) OnMessage(handler func([]byte)) {
	m.mu.Lock()
	m.handler = handler
	m.mu.Unlock()
}

// Done is closed when the subscription ends. The client reconnects on its
// own, so that happens only once the medium is closed.
func (m *Medium) Done() <-chan struct{} {
	return m.done
}

// Close unsubscribes and, for media created by Dial, closes the client.
func (m *Medium) Close() error {
	var err error
	m.closeOnce.Do(func() {
		err = m.pubsub.Close()
		<-m.done
		if m.owned {
			if cerr := m.client.Close(); err == nil {
				err = cerr
			}
		}
	})
	return err
}

func (m *Medium) run(ch <-chan *redis.Message) {
	defer close(m.done)
	for msg := range ch {
		m.mu.RLock()
		h := m.handler
		m.mu.RUnlock()
		if h == nil {
			m.logger.Debug("redis message without receiver", "channel", msg.Channel)
			continue
		}
		h([]byte(msg.Payload))
	}
}
