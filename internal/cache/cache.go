// Package cache stores serialized aggregate chart snapshots keyed by hour.
//
// Entries never expire. Writes are compare-and-set on the aggregate
// generation: a snapshot never replaces one built from a newer generation.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/zeebo/errs"

	"github.com/kchartio/kchart/internal/domain"
)

var (
	// Error wraps backend failures.
	Error = errs.Class("cache")

	// ErrMiss is returned by Get when no snapshot is cached for the hour.
	ErrMiss = errs.Class("cache miss")
)

// KeyPrefix precedes the reference-timezone hour key.
const KeyPrefix = "charts-realtime-"

// Key returns the cache key for an aggregate hour.
func Key(hour time.Time) string {
	return KeyPrefix + domain.HourKey(hour)
}

// Cache is implemented by the badger and redis backends.
type Cache interface {
	// Get returns the snapshot for hour or an ErrMiss error.
	Get(ctx context.Context, hour time.Time) (*Snapshot, error)
	// Put writes snap unless a newer generation is already cached. It
	// reports whether the value was written.
	Put(ctx context.Context, snap *Snapshot) (bool, error)
	// PutIfPresent is Put restricted to hours that already have an entry.
	PutIfPresent(ctx context.Context, snap *Snapshot) (bool, error)
	Delete(ctx context.Context, hour time.Time) error
	Close() error
}

func encode(snap *Snapshot) ([]byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, Error.New("encode snapshot %s: %v", snap.HourKey, err)
	}
	return data, nil
}

func decode(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, Error.New("decode snapshot: %v", err)
	}
	return &snap, nil
}

// replaces reports whether next may overwrite the cached bytes. Every
// change to an aggregate bumps its generation, so an equal generation is a
// rewrite of the same chart. Unreadable entries are always replaced.
func replaces(existing []byte, next *Snapshot) bool {
	var head struct {
		Generation int64 `json:"generation"`
	}
	if err := json.Unmarshal(existing, &head); err != nil {
		return true
	}
	return head.Generation <= next.Generation
}
