package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/housie-live/housie-live/internal/domain/claim"
)

// ClaimRepository implements claim.Repository.
type ClaimRepository struct {
	pool *pgxpool.Pool
}

func NewClaimRepository(pool *pgxpool.Pool) *ClaimRepository {
	return &ClaimRepository{pool: pool}
}

func (r *ClaimRepository) Create(ctx context.Context, rec *claim.Record) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO claims
		(claim_id, session_id, player_id, ticket_serial, pattern, status, raised_at, decided_at, resolved_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, rec.ClaimID, rec.SessionID, rec.PlayerID, rec.TicketSerial, rec.Pattern, rec.Status, rec.RaisedAt, rec.DecidedAt, rec.ResolvedAt)
	return err
}

func (r *ClaimRepository) Update(ctx context.Context, rec *claim.Record) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE claims SET status=$1, decided_at=$2, resolved_at=$3 WHERE claim_id=$4
	`, rec.Status, rec.DecidedAt, rec.ResolvedAt, rec.ClaimID)
	return err
}

func (r *ClaimRepository) GetByID(ctx context.Context, claimID uuid.UUID) (*claim.Record, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT claim_id, session_id, player_id, ticket_serial, pattern, status, raised_at, decided_at, resolved_at
		FROM claims WHERE claim_id=$1
	`, claimID)
	return scanClaim(row)
}

func (r *ClaimRepository) ListBySession(ctx context.Context, sessionID string) ([]*claim.Record, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT claim_id, session_id, player_id, ticket_serial, pattern, status, raised_at, decided_at, resolved_at
		FROM claims WHERE session_id=$1 ORDER BY raised_at ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*claim.Record, 0)
	for rows.Next() {
		rec, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *ClaimRepository) DeleteResolvedBefore(ctx context.Context, sessionID string, cutoffUnix int64) (int, error) {
	res, err := r.pool.Exec(ctx, `
		DELETE FROM claims
		WHERE session_id=$1 AND status=$2 AND resolved_at < $3
	`, sessionID, claim.StatusResolved, time.Unix(cutoffUnix, 0).UTC())
	if err != nil {
		return 0, err
	}
	return int(res.RowsAffected()), nil
}

func scanClaim(row pgx.Row) (*claim.Record, error) {
	var rec claim.Record
	if err := row.Scan(&rec.ClaimID, &rec.SessionID, &rec.PlayerID, &rec.TicketSerial, &rec.Pattern, &rec.Status, &rec.RaisedAt, &rec.DecidedAt, &rec.ResolvedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, claim.ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}
