package sync

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/housie-live/housie-live/internal/domain/broadcast"
	"github.com/housie-live/housie-live/internal/infrastructure/pubsub"
)

// recentWindow bounds the distributor's seen-broadcast-id set.
const recentWindow = 512

// PrimaryChannel names the main logical channel for a session.
func PrimaryChannel(sessionID string) string {
	return "session:" + sessionID
}

// BackupChannel names the redundant channel for a session. Envelopes that
// fail on the primary are republished here under the same broadcast id.
func BackupChannel(sessionID string) string {
	return "session:" + sessionID + ":backup"
}

// Distributor owns the outbound publish path (primary with backup fallback)
// and the inbound dedup gate for one session. It does not subscribe itself;
// the connection supervisor feeds Ingest from whichever channels are open.
type Distributor struct {
	transport pubsub.Transport
	sessionID string
	logger    zerolog.Logger

	mu            sync.Mutex
	seen          map[string]struct{}
	seenLog       []string
	handler       func(env broadcast.Envelope)
	lastInbound   time.Time
	lastByChannel map[string]time.Time
}

func NewDistributor(transport pubsub.Transport, sessionID string, logger zerolog.Logger) *Distributor {
	return &Distributor{
		transport:     transport,
		sessionID:     sessionID,
		logger:        logger.With().Str("service", "distributor").Str("session_id", sessionID).Logger(),
		seen:          make(map[string]struct{}),
		lastByChannel: make(map[string]time.Time),
	}
}

// OnReceive sets the handler invoked for each deduplicated inbound envelope.
func (d *Distributor) OnReceive(h func(env broadcast.Envelope)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handler = h
}

// Publish attempts the primary channel and falls back to the backup channel
// with the same broadcast id. An error is returned only when both fail; the
// caller has already applied the event locally and must not roll back.
func (d *Distributor) Publish(ctx context.Context, env broadcast.Envelope) error {
	// Own publishes are pre-marked seen so the echo from either channel is
	// dropped on ingest.
	d.remember(env.BroadcastID)

	primaryErr := d.transport.Publish(ctx, PrimaryChannel(d.sessionID), env)
	if primaryErr == nil {
		return nil
	}
	d.logger.Warn().Err(primaryErr).
		Str("broadcast_id", env.BroadcastID).
		Str("kind", string(env.Kind)).
		Msg("primary publish failed, trying backup channel")

	backupErr := d.transport.Publish(ctx, BackupChannel(d.sessionID), env)
	if backupErr == nil {
		return nil
	}
	d.logger.Error().Err(backupErr).
		Str("broadcast_id", env.BroadcastID).
		Str("kind", string(env.Kind)).
		Msg("publish failed on all channels")
	return backupErr
}

// Ingest feeds one inbound envelope through the dedup gate. Duplicate
// deliveries across the primary/backup pair share a broadcast id and are
// dropped here; envelopes for other sessions are ignored.
func (d *Distributor) Ingest(env broadcast.Envelope) {
	d.mu.Lock()
	d.lastInbound = time.Now().UTC()
	if env.SessionID != d.sessionID {
		d.mu.Unlock()
		return
	}
	if _, dup := d.seen[env.BroadcastID]; dup {
		d.mu.Unlock()
		return
	}
	d.rememberLocked(env.BroadcastID)
	handler := d.handler
	d.mu.Unlock()

	if handler != nil {
		handler(env)
	}
}

// IngestFrom returns the subscription handler for one channel. Each channel
// keeps its own inbound clock so a silently dead subscription is detected
// even while the other channel keeps delivering.
func (d *Distributor) IngestFrom(channel string) pubsub.Handler {
	return func(env broadcast.Envelope) {
		d.mu.Lock()
		d.lastByChannel[channel] = time.Now().UTC()
		d.mu.Unlock()
		d.Ingest(env)
	}
}

// LastInboundAt reports when any envelope (data or heartbeat) last arrived
// on any channel. The delivery-gap backstop uses it.
func (d *Distributor) LastInboundAt() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastInbound
}

// LastInboundOn reports when the given channel itself last delivered an
// envelope. The channel's supervisor uses it for liveness detection.
func (d *Distributor) LastInboundOn(channel string) time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastByChannel[channel]
}

func (d *Distributor) remember(broadcastID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rememberLocked(broadcastID)
}

func (d *Distributor) rememberLocked(broadcastID string) {
	if broadcastID == "" {
		return
	}
	if _, ok := d.seen[broadcastID]; ok {
		return
	}
	d.seen[broadcastID] = struct{}{}
	d.seenLog = append(d.seenLog, broadcastID)
	if len(d.seenLog) > recentWindow {
		evict := d.seenLog[0]
		d.seenLog = d.seenLog[1:]
		delete(d.seen, evict)
	}
}
