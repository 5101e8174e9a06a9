package pubsub

import (
	"context"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/housie-live/housie-live/internal/domain/broadcast"
)

const (
	redisPublishTimeout = 5 * time.Second
	redisPublishRetries = 2
)

// RedisTransport implements Transport over Redis PUBLISH/SUBSCRIBE with
// msgpack-encoded envelopes. Publish retries with exponential backoff before
// giving up; subscribers re-use go-redis's own reconnect loop.
type RedisTransport struct {
	client *goredis.Client
	logger zerolog.Logger

	mu     sync.RWMutex
	status map[string]ChannelState
	closed bool
}

// NewRedisTransport connects to the Redis at url
// (redis://[:password@]host:port[/db]).
func NewRedisTransport(url string, logger zerolog.Logger) (*RedisTransport, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis transport: invalid URL: %w", err)
	}
	return &RedisTransport{
		client: goredis.NewClient(opts),
		logger: logger.With().Str("service", "redis-transport").Logger(),
		status: make(map[string]ChannelState),
	}, nil
}

func (t *RedisTransport) Publish(ctx context.Context, channel string, env broadcast.Envelope) error {
	body, err := broadcast.Encode(env)
	if err != nil {
		return fmt.Errorf("redis transport: encode: %w", err)
	}
	var lastErr error
	attempts := 1 + redisPublishRetries
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * 250 * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		publishCtx, cancel := context.WithTimeout(ctx, redisPublishTimeout)
		lastErr = t.client.Publish(publishCtx, channel, body).Err()
		cancel()
		if lastErr == nil {
			return nil
		}
	}
	t.setStatus(channel, StateError)
	return fmt.Errorf("redis transport: publish %s: %w", channel, lastErr)
}

func (t *RedisTransport) Subscribe(ctx context.Context, channel string, handler Handler) (func(), error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrTransportClosed
	}
	t.status[channel] = StateConnecting
	t.mu.Unlock()

	sub := t.client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		t.setStatus(channel, StateError)
		_ = sub.Close()
		return nil, fmt.Errorf("redis transport: subscribe %s: %w", channel, err)
	}
	t.setStatus(channel, StateOpen)

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			_ = sub.Close()
			t.setStatus(channel, StateClosed)
		})
	}

	msgs := sub.Channel()
	go func() {
		defer unsubscribe()
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				env, err := broadcast.Decode([]byte(msg.Payload))
				if err != nil {
					t.logger.Warn().Err(err).Str("channel", channel).Msg("dropping malformed envelope")
					continue
				}
				handler(env)
			case <-ctx.Done():
				return
			}
		}
	}()
	return unsubscribe, nil
}

func (t *RedisTransport) Status(channel string) ChannelState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if st, ok := t.status[channel]; ok {
		return st
	}
	return StateClosed
}

func (t *RedisTransport) setStatus(channel string, st ChannelState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status[channel] = st
}

// Close tears down the client connection.
func (t *RedisTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return t.client.Close()
}
