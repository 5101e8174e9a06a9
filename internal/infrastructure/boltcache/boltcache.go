// Package boltcache persists per-session ledger state in a local bbolt file
// so a restarted or newly opened surface resumes from the last known state
// instead of empty, and multiple local surfaces of the same session stay
// mutually consistent through the reconcile loop.
package boltcache

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/housie-live/housie-live/internal/domain/ledger"
)

var ledgerBucket = []byte("ledgers")

// Cache is a durable local replica slot per session key.
type Cache struct {
	db *bolt.DB
}

// Open opens (or creates) the replica file at path.
func Open(path string) (*Cache, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open replica cache: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(ledgerBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init replica cache: %w", err)
	}
	return &Cache{db: db}, nil
}

// Load returns the cached state for the session, or nil when absent.
func (c *Cache) Load(sessionID string) (*ledger.State, error) {
	var out *ledger.State
	err := c.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(ledgerBucket).Get([]byte(sessionID))
		if raw == nil {
			return nil
		}
		var st ledger.State
		if err := json.Unmarshal(raw, &st); err != nil {
			return fmt.Errorf("decode cached state: %w", err)
		}
		out = &st
		return nil
	})
	return out, err
}

// Save overwrites the cached state for its session key.
func (c *Cache) Save(state ledger.State) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode cached state: %w", err)
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(ledgerBucket).Put([]byte(state.SessionID), raw)
	})
}

// Delete removes the cached state for the session.
func (c *Cache) Delete(sessionID string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(ledgerBucket).Delete([]byte(sessionID))
	})
}

// Close closes the underlying file.
func (c *Cache) Close() error {
	return c.db.Close()
}
