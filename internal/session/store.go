package session

import (
	"context"
	"time"
)

// Store persists search-session snapshots keyed by search key. A missing or
// expired key surfaces as domain.ErrSessionExpired; malformed stored data is
// treated as a miss and discarded.
type Store interface {
	// Get returns the snapshot for the given search key.
	Get(ctx context.Context, key string) (*Snapshot, error)

	// Put stores the snapshot under its search key, refreshing the TTL.
	Put(ctx context.Context, snap *Snapshot) error

	// Delete removes the snapshot for the given key. Deleting an absent
	// key is not an error.
	Delete(ctx context.Context, key string) error
}

// DefaultTTL is the snapshot lifetime used when the configuration does not
// set one.
const DefaultTTL = time.Hour
