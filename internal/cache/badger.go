package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// conflictRetries bounds retries of a write that lost a transaction race.
const conflictRetries = 5

// Badger is the embedded cache backend.
type Badger struct {
	db     *badger.DB
	logger *slog.Logger
}

var _ Cache = (*Badger)(nil)

// OpenBadger opens a badger cache at path. An empty path keeps everything in
// memory.
func OpenBadger(path string, logger *slog.Logger) (*Badger, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil
	opts.SyncWrites = true
	opts.CompactL0OnClose = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, Error.New("open badger %q: %v", path, err)
	}
	if logger != nil {
		logger.Info("aggregate cache opened", "backend", "badger", "path", path)
	}
	return &Badger{db: db, logger: logger}, nil
}

// Get implements Cache.
func (c *Badger) Get(_ context.Context, hour time.Time) (*Snapshot, error) {
	var data []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(Key(hour)))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrMiss.New("%s", Key(hour))
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return decode(data)
}

// Put implements Cache.
func (c *Badger) Put(ctx context.Context, snap *Snapshot) (bool, error) {
	return c.put(ctx, snap, false)
}

// PutIfPresent implements Cache.
func (c *Badger) PutIfPresent(ctx context.Context, snap *Snapshot) (bool, error) {
	return c.put(ctx, snap, true)
}

func (c *Badger) put(ctx context.Context, snap *Snapshot, onlyIfPresent bool) (bool, error) {
	data, err := encode(snap)
	if err != nil {
		return false, err
	}
	key := []byte(Key(snap.Hour))

	for range conflictRetries {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		stored := false
		err = c.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get(key)
			switch {
			case errors.Is(err, badger.ErrKeyNotFound):
				if onlyIfPresent {
					return nil
				}
			case err != nil:
				return err
			default:
				existing, err := item.ValueCopy(nil)
				if err != nil {
					return err
				}
				if !replaces(existing, snap) {
					return nil
				}
			}
			stored = true
			return txn.Set(key, data)
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return false, Error.Wrap(err)
		}
		return stored, nil
	}
	return false, Error.New("put %s: too many write conflicts", key)
}

// Delete implements Cache.
func (c *Badger) Delete(_ context.Context, hour time.Time) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(Key(hour)))
	})
	return Error.Wrap(err)
}

// Close implements Cache.
func (c *Badger) Close() error {
	return Error.Wrap(c.db.Close())
}
