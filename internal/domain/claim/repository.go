package claim

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_repository.go -package=mocks . Repository

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists claim records until resolved plus the acknowledgment
// window.
type Repository interface {
	Create(ctx context.Context, rec *Record) error
	Update(ctx context.Context, rec *Record) error
	GetByID(ctx context.Context, claimID uuid.UUID) (*Record, error)
	ListBySession(ctx context.Context, sessionID string) ([]*Record, error)
	DeleteResolvedBefore(ctx context.Context, sessionID string, cutoffUnix int64) (int, error)
}
