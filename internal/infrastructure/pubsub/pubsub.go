// Package pubsub defines the transport contract the sync engine consumes and
// ships two implementations: an in-process hub and a Redis-backed transport.
// Delivery is at-least-once; deduplication is the receiver's responsibility.
package pubsub

import (
	"context"
	"errors"

	"github.com/housie-live/housie-live/internal/domain/broadcast"
)

// ChannelState mirrors the underlying connection lifecycle.
type ChannelState string

const (
	StateConnecting ChannelState = "CONNECTING"
	StateOpen       ChannelState = "OPEN"
	StateClosed     ChannelState = "CLOSED"
	StateError      ChannelState = "ERROR"
)

var ErrTransportClosed = errors.New("transport is closed")

// Handler consumes one inbound envelope. Handlers must not block.
type Handler func(env broadcast.Envelope)

// Transport is a generic publish/subscribe channel provider.
type Transport interface {
	// Publish sends the envelope to every subscriber of channel.
	Publish(ctx context.Context, channel string, env broadcast.Envelope) error
	// Subscribe registers h for envelopes on channel and returns an
	// unsubscribe func. Subscriptions end when ctx is cancelled or the
	// unsubscribe func runs, whichever comes first.
	Subscribe(ctx context.Context, channel string, h Handler) (func(), error)
	// Status reports the current state of channel.
	Status(channel string) ChannelState
}
