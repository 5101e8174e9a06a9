package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/housie-live/housie-live/internal/domain/ledger"
)

// LedgerRepository implements ledger.Store. One row per session key,
// last-write-wins: the engine re-applies its merge logic on read.
type LedgerRepository struct {
	pool *pgxpool.Pool
}

func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

func (r *LedgerRepository) Get(ctx context.Context, sessionID string) (*ledger.State, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT session_id, items, revision_at, last_broadcast_id
		FROM ledgers WHERE session_id=$1
	`, sessionID)

	var st ledger.State
	var items []byte
	var lastBroadcastID *string
	if err := row.Scan(&st.SessionID, &items, &st.RevisionAt, &lastBroadcastID); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(items, &st.Items); err != nil {
		return nil, fmt.Errorf("decode ledger items: %w", err)
	}
	if lastBroadcastID != nil {
		st.LastBroadcastID = *lastBroadcastID
	}
	if n := len(st.Items); n > 0 {
		last := st.Items[n-1]
		st.LastItem = &last
	}
	return &st, nil
}

func (r *LedgerRepository) Put(ctx context.Context, state ledger.State) error {
	items, err := json.Marshal(state.Items)
	if err != nil {
		return fmt.Errorf("encode ledger items: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO ledgers (session_id, items, revision_at, last_broadcast_id, updated_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (session_id) DO UPDATE SET
			items=EXCLUDED.items,
			revision_at=EXCLUDED.revision_at,
			last_broadcast_id=EXCLUDED.last_broadcast_id,
			updated_at=EXCLUDED.updated_at
	`, state.SessionID, items, state.RevisionAt, nullable(state.LastBroadcastID), time.Now().UTC())
	return err
}

func (r *LedgerRepository) Delete(ctx context.Context, sessionID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM ledgers WHERE session_id=$1`, sessionID)
	return err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
