// Package memstore provides in-memory implementations of the durable store
// contracts, used by tests and single-process deployments without Postgres.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/housie-live/housie-live/internal/domain/claim"
	"github.com/housie-live/housie-live/internal/domain/ledger"
)

// LedgerStore implements ledger.Store with per-key atomic read/write.
type LedgerStore struct {
	mu     sync.RWMutex
	states map[string]ledger.State
}

func NewLedgerStore() *LedgerStore {
	return &LedgerStore{states: make(map[string]ledger.State)}
}

func (s *LedgerStore) Get(_ context.Context, sessionID string) (*ledger.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[sessionID]
	if !ok {
		return nil, nil
	}
	out := st.Clone()
	return &out, nil
}

func (s *LedgerStore) Put(_ context.Context, state ledger.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.SessionID] = state.Clone()
	return nil
}

// ClaimRepository implements claim.Repository.
type ClaimRepository struct {
	mu      sync.RWMutex
	records map[uuid.UUID]claim.Record
}

func NewClaimRepository() *ClaimRepository {
	return &ClaimRepository{records: make(map[uuid.UUID]claim.Record)}
}

func (r *ClaimRepository) Create(_ context.Context, rec *claim.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.ClaimID] = *rec
	return nil
}

func (r *ClaimRepository) Update(_ context.Context, rec *claim.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[rec.ClaimID]; !ok {
		return claim.ErrNotFound
	}
	r.records[rec.ClaimID] = *rec
	return nil
}

func (r *ClaimRepository) GetByID(_ context.Context, claimID uuid.UUID) (*claim.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[claimID]
	if !ok {
		return nil, claim.ErrNotFound
	}
	out := rec
	return &out, nil
}

func (r *ClaimRepository) ListBySession(_ context.Context, sessionID string) ([]*claim.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*claim.Record, 0)
	for _, rec := range r.records {
		if rec.SessionID != sessionID {
			continue
		}
		cp := rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RaisedAt.Before(out[j].RaisedAt) })
	return out, nil
}

func (r *ClaimRepository) DeleteResolvedBefore(_ context.Context, sessionID string, cutoffUnix int64) (int, error) {
	cutoff := time.Unix(cutoffUnix, 0).UTC()
	r.mu.Lock()
	defer r.mu.Unlock()
	deleted := 0
	for id, rec := range r.records {
		if rec.SessionID != sessionID || rec.Status != claim.StatusResolved {
			continue
		}
		if rec.ResolvedAt != nil && rec.ResolvedAt.Before(cutoff) {
			delete(r.records, id)
			deleted++
		}
	}
	return deleted, nil
}
