// Package sync is the game-state synchronization engine: it keeps every
// replica of a session eventually consistent about the called-item ledger
// and claim lifecycles over an at-least-once, possibly duplicated transport.
package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/housie-live/housie-live/internal/application/claims"
	"github.com/housie-live/housie-live/internal/domain/claim"
	"github.com/housie-live/housie-live/internal/domain/ledger"
	"github.com/housie-live/housie-live/internal/domain/rules"
	"github.com/housie-live/housie-live/internal/domain/ticket"
	"github.com/housie-live/housie-live/internal/infrastructure/boltcache"
	"github.com/housie-live/housie-live/internal/infrastructure/pubsub"
)

// Config tunes the engine's timing knobs.
type Config struct {
	ReconcileInterval    time.Duration
	FlushInterval        time.Duration
	PublishTimeout       time.Duration
	ClaimTimeout         time.Duration
	HeartbeatInterval    time.Duration
	LivenessTimeout      time.Duration
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	ReconnectMaxAttempts int
}

func (c Config) normalized() Config {
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = 2 * time.Second
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 10 * time.Second
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 10 * time.Second
	}
	if c.ClaimTimeout <= 0 {
		c.ClaimTimeout = claims.DefaultTimeout
	}
	return c
}

// Role determines which engine behaviors a replica enables.
type Role string

const (
	RoleCaller Role = "CALLER"
	RolePlayer Role = "PLAYER"
)

// Manager owns the per-session runtimes for this process. Sessions are fully
// independent: no lock or state is shared across them beyond the durable
// store collaborator.
type Manager struct {
	transport pubsub.Transport
	cache     *boltcache.Cache
	store     ledger.Store
	claimRepo claim.Repository
	registry  *rules.Registry
	cfg       Config
	logger    zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

var ErrManagerClosed = errors.New("sync manager is closed")

// NewManager wires the engine's collaborators. cache and store may be nil;
// the engine then runs broadcast-only.
func NewManager(
	transport pubsub.Transport,
	cache *boltcache.Cache,
	store ledger.Store,
	claimRepo claim.Repository,
	registry *rules.Registry,
	cfg Config,
	logger zerolog.Logger,
) *Manager {
	return &Manager{
		transport: transport,
		cache:     cache,
		store:     store,
		claimRepo: claimRepo,
		registry:  registry,
		cfg:       cfg.normalized(),
		logger:    logger.With().Str("service", "sync").Logger(),
		sessions:  make(map[string]*Session),
	}
}

// Open creates (or returns) the runtime for sessionID. playerID identifies
// this replica's participant for targeted claim decisions; role selects
// caller-side behaviors. The second return reports whether the runtime was
// created by this call.
func (m *Manager) Open(sessionID, playerID string, role Role) (*Session, bool, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, false, errors.New("session_id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false, ErrManagerClosed
	}
	if existing, ok := m.sessions[sessionID]; ok {
		return existing, false, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	logger := m.logger.With().Str("session_id", sessionID).Logger()
	s := &Session{
		id:       sessionID,
		playerID: playerID,
		isCaller: role == RoleCaller,
		ledger:   ledger.New(sessionID),
		cache:    m.cache,
		store:    m.store,
		cfg:      m.cfg,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
	s.dist = NewDistributor(m.transport, sessionID, logger)
	s.claims = claims.NewService(m.claimRepo, s.dist.Publish, m.cfg.ClaimTimeout, logger)
	s.start(m.transport)
	m.sessions[sessionID] = s
	return s, true, nil
}

// Get returns an open session runtime, or nil.
func (m *Manager) Get(sessionID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[sessionID]
}

// Close tears down one session runtime.
func (m *Manager) Close(sessionID string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()
	if ok {
		s.Close()
	}
}

// Shutdown tears down every session runtime.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}

// Evaluate scores a pattern for a ticket under the game type's rule set.
// The evaluation is read-only and safe against a lock-free state snapshot.
func (m *Manager) Evaluate(gameType string, layout *ticket.Layout, calledValues []int, patternID string) (rules.Evaluation, error) {
	rs := m.registry.Resolve(gameType)
	eval, err := rs.Evaluate(layout, rules.CalledSet(calledValues), patternID)
	if err != nil {
		m.logger.Warn().Err(err).
			Str("game_type", gameType).
			Str("pattern", patternID).
			Msg("evaluation failed")
		return eval, fmt.Errorf("evaluate pattern %s: %w", patternID, err)
	}
	return eval, nil
}
