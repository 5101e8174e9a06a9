package ledger

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_store.go -package=mocks . Store

import "context"

// Store is the durable per-session ledger slot. Last-write-wins is acceptable
// at the store layer because the engine re-applies its own merge on read.
type Store interface {
	// Get returns the stored state for the session, or nil when absent.
	Get(ctx context.Context, sessionID string) (*State, error)
	// Put overwrites the stored state for the session.
	Put(ctx context.Context, state State) error
}
