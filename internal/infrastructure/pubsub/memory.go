package pubsub

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/housie-live/housie-live/internal/domain/broadcast"
)

const subscriberBuffer = 100

// Hub is an in-process Transport for tests and single-process deployments.
// Fan-out is non-blocking: a subscriber whose buffer is full drops the
// message and relies on the engine's reconciliation pass to catch up.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[string]*subscriber
	closed   bool
}

type subscriber struct {
	id string
	ch chan broadcast.Envelope
}

func NewHub() *Hub {
	return &Hub{channels: make(map[string]map[string]*subscriber)}
}

func (h *Hub) Publish(_ context.Context, channel string, env broadcast.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrTransportClosed
	}
	for _, sub := range h.channels[channel] {
		select {
		case sub.ch <- env:
		default:
		}
	}
	return nil
}

func (h *Hub) Subscribe(ctx context.Context, channel string, handler Handler) (func(), error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrTransportClosed
	}
	sub := &subscriber{id: uuid.NewString(), ch: make(chan broadcast.Envelope, subscriberBuffer)}
	if h.channels[channel] == nil {
		h.channels[channel] = make(map[string]*subscriber)
	}
	h.channels[channel][sub.id] = sub
	h.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			h.mu.Lock()
			if subs, ok := h.channels[channel]; ok {
				delete(subs, sub.id)
				if len(subs) == 0 {
					delete(h.channels, channel)
				}
			}
			h.mu.Unlock()
			close(done)
		})
	}

	go func() {
		for {
			select {
			case env := <-sub.ch:
				handler(env)
			case <-ctx.Done():
				unsubscribe()
				return
			case <-done:
				return
			}
		}
	}()
	return unsubscribe, nil
}

func (h *Hub) Status(string) ChannelState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return StateClosed
	}
	return StateOpen
}

// Close drops every subscription and rejects further publishes.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.channels = make(map[string]map[string]*subscriber)
}
