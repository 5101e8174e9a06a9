package sync

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/housie-live/housie-live/internal/application/claims"
	"github.com/housie-live/housie-live/internal/application/supervisor"
	"github.com/housie-live/housie-live/internal/domain/broadcast"
	"github.com/housie-live/housie-live/internal/domain/claim"
	"github.com/housie-live/housie-live/internal/domain/ledger"
	"github.com/housie-live/housie-live/internal/infrastructure/boltcache"
	"github.com/housie-live/housie-live/internal/infrastructure/pubsub"
)

// LedgerListener observes ledger changes on this replica.
type LedgerListener func(state ledger.State)

// ChannelStatusListener observes supervised channel transitions, including
// the degraded-connectivity signal when a channel permanently fails.
type ChannelStatusListener func(channel string, state supervisor.State, attempt int)

// Session is the runtime for one game session on one replica: ledger,
// distributor, claim workflow, replica cache loops and channel supervisors,
// all torn down atomically by Close. There is no ambient global registry;
// the Manager that opened the session owns it.
type Session struct {
	id       string
	playerID string
	isCaller bool

	ledger *ledger.Ledger
	dist   *Distributor
	claims *claims.Service
	cache  *boltcache.Cache
	store  ledger.Store
	cfg    Config
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	dirty  atomic.Bool

	mu              sync.Mutex
	ledgerListeners []LedgerListener
	statusListeners []ChannelStatusListener
}

func (s *Session) start(transport pubsub.Transport) {
	s.dist.OnReceive(s.handleEnvelope)

	// Cold start: local replica first, then the durable store as backstop.
	s.restore()

	for _, channel := range []string{PrimaryChannel(s.id), BackupChannel(s.id)} {
		s.superviseChannel(transport, channel)
	}

	s.wg.Add(2)
	go s.reconcileLoop()
	go s.flushLoop()
}

func (s *Session) superviseChannel(transport pubsub.Transport, channel string) {
	// The session is not usable until this channel's first connect resolves:
	// a broadcast published right after Open would otherwise race the
	// subscription and be lost until the flush backstop. ready fires on the
	// first transition past Connecting, so a failing transport still hands
	// control back and retries in the background.
	ready := make(chan struct{})
	var once sync.Once

	sup := supervisor.New(supervisor.Config{
		Channel:           channel,
		BaseDelay:         s.cfg.ReconnectBaseDelay,
		MaxDelay:          s.cfg.ReconnectMaxDelay,
		MaxAttempts:       s.cfg.ReconnectMaxAttempts,
		HeartbeatInterval: s.cfg.HeartbeatInterval,
		LivenessTimeout:   s.cfg.LivenessTimeout,
	}, supervisor.Hooks{
		Connect: func(ctx context.Context) (func(), error) {
			return transport.Subscribe(ctx, channel, s.dist.IngestFrom(channel))
		},
		OnOpen: func(ctx context.Context) {
			s.resync(ctx)
		},
		Heartbeat: func(ctx context.Context) error {
			env := broadcast.NewHeartbeat(s.id, channel, time.Now().UTC())
			return transport.Publish(ctx, channel, env)
		},
		LastActivity: func() time.Time {
			return s.dist.LastInboundOn(channel)
		},
		OnStateChange: func(ch string, state supervisor.State, attempt int) {
			if state != supervisor.StateConnecting {
				once.Do(func() { close(ready) })
			}
			s.notifyStatus(ch, state, attempt)
		},
	}, s.logger)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := sup.Run(s.ctx); err != nil {
			s.logger.Error().Err(err).Str("channel", channel).Msg("channel permanently failed")
		}
	}()
	<-ready
}

// CallItem appends a newly called value and broadcasts the delta. The local
// update happens first; the publish is asynchronous (optimistic write-ahead).
func (s *Session) CallItem(value int) (ledger.CalledItem, error) {
	env := broadcast.NewItemCalled(s.id, ledger.CalledItem{})
	item, err := s.ledger.Append(value, env.BroadcastID)
	if err != nil {
		return ledger.CalledItem{}, err
	}
	env.ItemCalled.Item = item
	s.afterLocalWrite(env)
	return item, nil
}

// Reset atomically replaces the ledger with an empty revision and broadcasts
// the reset exactly like an append.
func (s *Session) Reset() ledger.State {
	env := broadcast.NewReset(s.id, time.Time{})
	state := s.ledger.Reset(env.BroadcastID)
	env.Reset.At = state.RevisionAt
	s.afterLocalWrite(env)
	return state
}

// RaiseClaim submits a win claim for a ticket against the current snapshot.
func (s *Session) RaiseClaim(ctx context.Context, playerID, ticketSerial, pattern string) (*claim.Record, error) {
	snapshot := s.ledger.Snapshot()
	return s.claims.Raise(ctx, s.id, playerID, ticketSerial, pattern, snapshot.Values())
}

// Claims exposes the claim workflow service.
func (s *Session) Claims() *claims.Service {
	return s.claims
}

// Snapshot returns the current ledger state.
func (s *Session) Snapshot() ledger.State {
	return s.ledger.Snapshot()
}

// OnLedgerChange registers a ledger listener.
func (s *Session) OnLedgerChange(l LedgerListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledgerListeners = append(s.ledgerListeners, l)
}

// OnClaimChange registers a claim listener.
func (s *Session) OnClaimChange(l claims.Listener) {
	s.claims.OnChange(l)
}

// OnChannelStatus registers a channel lifecycle listener.
func (s *Session) OnChannelStatus(l ChannelStatusListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusListeners = append(s.statusListeners, l)
}

// Close tears down supervisors, loops and pending claim timers, then flushes
// the final state. No timer fires after Close returns.
func (s *Session) Close() {
	s.cancel()
	s.claims.Stop()
	s.wg.Wait()
	s.flush(context.Background())
}

func (s *Session) afterLocalWrite(env broadcast.Envelope) {
	state := s.ledger.Snapshot()
	s.dirty.Store(true)
	s.saveCache(state)
	s.notifyLedger(state)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// Derived from the session context so teardown aborts it.
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.PublishTimeout)
		defer cancel()
		if err := s.dist.Publish(ctx, env); err != nil {
			s.logger.Warn().
				Str("kind", string(env.Kind)).
				Str("broadcast_id", env.BroadcastID).
				Msg("optimistic publish failed, reconciliation will repair")
		}
	}()
}

// handleEnvelope dispatches one deduplicated inbound envelope.
func (s *Session) handleEnvelope(env broadcast.Envelope) {
	switch env.Kind {
	case broadcast.KindItemCalled:
		outcome := s.ledger.MergeDelta(env.ItemCalled.Item, env.BroadcastID)
		s.afterMerge(outcome)
	case broadcast.KindReset:
		outcome := s.ledger.ApplyReset(env.Reset.At, env.BroadcastID)
		s.afterMerge(outcome)
	case broadcast.KindSnapshot:
		outcome := s.ledger.MergeState(env.Snapshot.State, env.BroadcastID)
		s.afterMerge(outcome)
	case broadcast.KindClaimRaised:
		// Claim-raised events address the caller role.
		if s.isCaller {
			s.claims.ApplyRaised(s.ctx, *env.ClaimRaised)
		}
	case broadcast.KindClaimResolved:
		s.claims.ApplyResolved(s.ctx, *env.ClaimResolved, s.playerID)
	case broadcast.KindHeartbeat:
		// Activity already recorded by the distributor.
	}
}

func (s *Session) afterMerge(outcome ledger.MergeOutcome) {
	if !outcome.Applied {
		return
	}
	state := s.ledger.Snapshot()
	s.dirty.Store(true)
	s.saveCache(state)
	s.notifyLedger(state)
}

// restore seeds the ledger from the local replica, then the durable store.
func (s *Session) restore() {
	if s.cache != nil {
		if cached, err := s.cache.Load(s.id); err != nil {
			s.logger.Warn().Err(err).Msg("replica cache read failed")
		} else if cached != nil {
			s.ledger.MergeState(*cached, "")
		}
	}
	s.pullStore(s.ctx)
}

// resync runs on every successful channel open: pull the durable store, then
// publish our snapshot so diverged replicas converge on merge.
func (s *Session) resync(ctx context.Context) {
	s.pullStore(ctx)
	state := s.ledger.Snapshot()
	if len(state.Items) == 0 && state.RevisionAt.IsZero() {
		return
	}
	env := broadcast.NewSnapshot(state)
	if err := s.dist.Publish(ctx, env); err != nil {
		s.logger.Warn().Err(err).Msg("resync snapshot publish failed")
	}
}

func (s *Session) pullStore(ctx context.Context) {
	if s.store == nil {
		return
	}
	stored, err := s.store.Get(ctx, s.id)
	if err != nil {
		s.logger.Warn().Err(err).Msg("durable store read failed")
		return
	}
	if stored == nil {
		return
	}
	if outcome := s.ledger.MergeState(*stored, ""); outcome.Applied {
		state := s.ledger.Snapshot()
		s.saveCache(state)
		s.notifyLedger(state)
	}
}

// reconcileLoop keeps the local replica slot and the in-memory ledger
// mutually consistent on a short interval: read, merge, write back if the
// in-memory state is newer.
func (s *Session) reconcileLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.reconcileCache()
		}
	}
}

func (s *Session) reconcileCache() {
	if s.cache == nil {
		return
	}
	cached, err := s.cache.Load(s.id)
	if err != nil {
		s.logger.Warn().Err(err).Msg("replica cache read failed")
		return
	}
	if cached != nil {
		if outcome := s.ledger.MergeState(*cached, ""); outcome.Applied {
			s.dirty.Store(true)
			s.notifyLedger(s.ledger.Snapshot())
		}
	}
	state := s.ledger.Snapshot()
	if cached == nil || state.RevisionAt.After(cached.RevisionAt) ||
		(state.RevisionAt.Equal(cached.RevisionAt) && len(state.Items) > len(cached.Items)) {
		s.saveCache(state)
	}
}

// flushLoop pushes dirty state to the durable store on a longer interval and
// pulls from it after a delivery gap, as the backstop when broadcasts failed
// entirely.
func (s *Session) flushLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.flush(s.ctx)
			if s.deliveryGap() {
				s.pullStore(s.ctx)
			}
		}
	}
}

func (s *Session) flush(ctx context.Context) {
	if s.store == nil || !s.dirty.Swap(false) {
		return
	}
	if err := s.store.Put(ctx, s.ledger.Snapshot()); err != nil {
		s.dirty.Store(true)
		s.logger.Warn().Err(err).Msg("durable store write failed")
	}
}

// deliveryGap reports whether no broadcast arrived for longer than the
// reconcile interval, the sign that broadcast delivery may have failed
// entirely and the durable store must serve as backstop.
func (s *Session) deliveryGap() bool {
	last := s.dist.LastInboundAt()
	return last.IsZero() || time.Since(last) > s.cfg.ReconcileInterval
}

func (s *Session) saveCache(state ledger.State) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Save(state); err != nil {
		s.logger.Warn().Err(err).Msg("replica cache write failed")
	}
}

func (s *Session) notifyLedger(state ledger.State) {
	s.mu.Lock()
	listeners := append([]LedgerListener(nil), s.ledgerListeners...)
	s.mu.Unlock()
	for _, l := range listeners {
		l(state)
	}
}

func (s *Session) notifyStatus(channel string, state supervisor.State, attempt int) {
	s.mu.Lock()
	listeners := append([]ChannelStatusListener(nil), s.statusListeners...)
	s.mu.Unlock()
	for _, l := range listeners {
		l(channel, state, attempt)
	}
}
