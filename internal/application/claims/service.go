package claims

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/housie-live/housie-live/internal/domain/broadcast"
	"github.com/housie-live/housie-live/internal/domain/claim"
)

// DefaultTimeout bounds how long a raised claim may stay undecided before it
// self-transitions to the terminal timed-out state.
const DefaultTimeout = 10 * time.Second

// Publisher is the distributor hook used to broadcast claim events.
type Publisher func(ctx context.Context, env broadcast.Envelope) error

// Listener observes claim changes on this replica.
type Listener func(rec claim.Record)

// Service runs the per-claim state machine: raise, broadcast, decide or time
// out, resolve. Decision re-delivery is idempotent.
type Service struct {
	repo    claim.Repository
	publish Publisher
	logger  zerolog.Logger
	timeout time.Duration
	now     func() time.Time

	// Broadcasts run detached from the request context but under the
	// service lifecycle, so Stop aborts and drains them.
	publishCtx    context.Context
	cancelPublish context.CancelFunc
	publishWG     sync.WaitGroup

	mu          sync.Mutex
	timers      map[uuid.UUID]*time.Timer
	lastApplied map[string]uuid.UUID
	listeners   []Listener
	closed      bool
}

func NewService(repo claim.Repository, publish Publisher, timeout time.Duration, logger zerolog.Logger) *Service {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		repo:          repo,
		publish:       publish,
		logger:        logger.With().Str("service", "claims").Logger(),
		timeout:       timeout,
		now:           func() time.Time { return time.Now().UTC() },
		publishCtx:    ctx,
		cancelPublish: cancel,
		timers:        make(map[uuid.UUID]*time.Timer),
		lastApplied:   make(map[string]uuid.UUID),
	}
}

// OnChange registers a listener for claim transitions on this replica.
func (s *Service) OnChange(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Raise creates a claim, persists it, broadcasts it to the caller role and
// arms the decision timeout. The local write happens first; the broadcast is
// asynchronous and its failure never rolls the claim back.
func (s *Service) Raise(ctx context.Context, sessionID, playerID, ticketSerial, pattern string, calledValues []int) (*claim.Record, error) {
	if playerID == "" || ticketSerial == "" {
		return nil, errors.New("player_id and ticket_serial are required")
	}
	rec := claim.New(sessionID, playerID, ticketSerial, pattern)
	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("persist claim: %w", err)
	}
	s.armTimeout(*rec)
	s.notify(*rec)

	env := broadcast.NewClaimRaised(*rec, calledValues)
	s.publishWG.Add(1)
	go func() {
		defer s.publishWG.Done()
		if err := s.publish(s.publishCtx, env); err != nil {
			s.logger.Warn().Err(err).
				Str("claim_id", rec.ClaimID.String()).
				Msg("claim broadcast failed, relying on reconciliation")
		}
	}()
	return rec, nil
}

// Resolve applies the caller's verdict, cancels the pending timeout and
// broadcasts the decision (targeted at the claim owner, or globally).
func (s *Service) Resolve(ctx context.Context, claimID uuid.UUID, decision claim.Decision, global bool) (*claim.Record, error) {
	rec, err := s.repo.GetByID(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if err := rec.Decide(decision, s.now()); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, rec); err != nil {
		return nil, fmt.Errorf("persist decision: %w", err)
	}
	s.disarmTimeout(claimID)
	s.markApplied(rec.SessionID, claimID)
	s.notify(*rec)
	s.logger.Info().
		Str("claim_id", claimID.String()).
		Str("decision", string(decision)).
		Msg("claim resolved by caller")

	env := broadcast.NewClaimResolved(rec.SessionID, claimID, rec.PlayerID, decision, global)
	s.publishWG.Add(1)
	go func() {
		defer s.publishWG.Done()
		if err := s.publish(s.publishCtx, env); err != nil {
			s.logger.Warn().Err(err).
				Str("claim_id", claimID.String()).
				Msg("decision broadcast failed, relying on reconciliation")
		}
	}()
	return rec, nil
}

// Acknowledge marks a decided claim resolved once the owning client has
// displayed the verdict.
func (s *Service) Acknowledge(ctx context.Context, claimID uuid.UUID) (*claim.Record, error) {
	rec, err := s.repo.GetByID(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if err := rec.Acknowledge(s.now()); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, rec); err != nil {
		return nil, err
	}
	s.notify(*rec)
	return rec, nil
}

// ApplyRaised ingests a remote claim-raised broadcast. Re-delivery is a
// no-op once the record exists.
func (s *Service) ApplyRaised(ctx context.Context, payload broadcast.ClaimRaisedPayload) {
	if _, err := s.repo.GetByID(ctx, payload.Claim.ClaimID); err == nil {
		return
	} else if !errors.Is(err, claim.ErrNotFound) {
		s.logger.Warn().Err(err).Str("claim_id", payload.Claim.ClaimID.String()).Msg("claim lookup failed")
		return
	}
	rec := payload.Claim
	if err := s.repo.Create(ctx, &rec); err != nil {
		s.logger.Warn().Err(err).Str("claim_id", rec.ClaimID.String()).Msg("persist remote claim failed")
		return
	}
	s.armTimeout(rec)
	s.notify(rec)
}

// ApplyResolved ingests a remote decision. A broadcast is applied when it is
// global or addressed to localPlayerID; re-delivery of the last-applied claim
// id per session is a no-op so duplicate decisions cause no duplicate
// side effects.
func (s *Service) ApplyResolved(ctx context.Context, payload broadcast.ClaimResolvedPayload, localPlayerID string) {
	if !payload.Global && payload.PlayerID != localPlayerID {
		return
	}
	rec, err := s.repo.GetByID(ctx, payload.ClaimID)
	if err != nil {
		if !errors.Is(err, claim.ErrNotFound) {
			s.logger.Warn().Err(err).Str("claim_id", payload.ClaimID.String()).Msg("claim lookup failed")
		}
		return
	}
	if s.alreadyApplied(rec.SessionID, payload.ClaimID) {
		return
	}
	if err := rec.Decide(payload.Decision, s.now()); err != nil {
		// Already decided locally (e.g. timed out first); keep the local
		// terminal state but record the id so redeliveries stay silent.
		s.markApplied(rec.SessionID, payload.ClaimID)
		return
	}
	if err := s.repo.Update(ctx, rec); err != nil {
		s.logger.Warn().Err(err).Str("claim_id", payload.ClaimID.String()).Msg("persist remote decision failed")
		return
	}
	s.disarmTimeout(payload.ClaimID)
	s.markApplied(rec.SessionID, payload.ClaimID)
	s.notify(*rec)
}

// ListBySession returns the session's claims.
func (s *Service) ListBySession(ctx context.Context, sessionID string) ([]*claim.Record, error) {
	return s.repo.ListBySession(ctx, sessionID)
}

// Stop cancels every pending timeout, aborts in-flight broadcasts and waits
// for them. Nothing fires after Stop returns.
func (s *Service) Stop() {
	s.mu.Lock()
	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()
	s.cancelPublish()
	s.publishWG.Wait()
}

func (s *Service) armTimeout(rec claim.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if _, exists := s.timers[rec.ClaimID]; exists {
		return
	}
	claimID := rec.ClaimID
	s.timers[claimID] = time.AfterFunc(s.timeout, func() {
		s.fireTimeout(claimID)
	})
}

func (s *Service) disarmTimeout(claimID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[claimID]; ok {
		t.Stop()
		delete(s.timers, claimID)
	}
}

func (s *Service) fireTimeout(claimID uuid.UUID) {
	s.mu.Lock()
	delete(s.timers, claimID)
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}

	ctx := context.Background()
	rec, err := s.repo.GetByID(ctx, claimID)
	if err != nil {
		return
	}
	if err := rec.TimeOut(s.now()); err != nil {
		return
	}
	if err := s.repo.Update(ctx, rec); err != nil {
		s.logger.Warn().Err(err).Str("claim_id", claimID.String()).Msg("persist claim timeout failed")
		return
	}
	// Distinct from a caller rejection in telemetry.
	s.logger.Info().
		Str("claim_id", claimID.String()).
		Str("session_id", rec.SessionID).
		Msg("claim timed out without decision")
	s.notify(*rec)
}

func (s *Service) alreadyApplied(sessionID string, claimID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastApplied[sessionID] == claimID
}

func (s *Service) markApplied(sessionID string, claimID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastApplied[sessionID] = claimID
}

func (s *Service) notify(rec claim.Record) {
	s.mu.Lock()
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()
	for _, l := range listeners {
		l(rec)
	}
}
