package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is the shared cache backend for deployments running more than one
// kchart process.
type Redis struct {
	db     *redis.Client
	logger *slog.Logger
}

var _ Cache = (*Redis)(nil)

// OpenRedis connects to a redis:// URL and verifies the connection.
func OpenRedis(ctx context.Context, rawURL string, logger *slog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, Error.New("parse redis url: %v", err)
	}
	db := redis.NewClient(opts)
	if err := db.Ping(ctx).Err(); err != nil {
		_ = db.Close()
		return nil, Error.New("ping failed: %v", err)
	}
	if logger != nil {
		logger.Info("aggregate cache opened", "backend", "redis", "addr", opts.Addr)
	}
	return &Redis{db: db, logger: logger}, nil
}

// Get implements Cache.
func (c *Redis) Get(ctx context.Context, hour time.Time) (*Snapshot, error) {
	data, err := c.db.Get(ctx, Key(hour)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss.New("%s", Key(hour))
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return decode(data)
}

// Put implements Cache.
func (c *Redis) Put(ctx context.Context, snap *Snapshot) (bool, error) {
	return c.put(ctx, snap, false)
}

// PutIfPresent implements Cache.
func (c *Redis) PutIfPresent(ctx context.Context, snap *Snapshot) (bool, error) {
	return c.put(ctx, snap, true)
}

func (c *Redis) put(ctx context.Context, snap *Snapshot, onlyIfPresent bool) (bool, error) {
	data, err := encode(snap)
	if err != nil {
		return false, err
	}
	key := Key(snap.Hour)

	var stored bool
	txf := func(tx *redis.Tx) error {
		stored = false
		existing, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			if onlyIfPresent {
				return nil
			}
		case err != nil:
			return err
		case !replaces(existing, snap):
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		if err == nil {
			stored = true
		}
		return err
	}

	for range conflictRetries {
		err := c.db.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
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
func (c *Redis) Delete(ctx context.Context, hour time.Time) error {
	return Error.Wrap(c.db.Del(ctx, Key(hour)).Err())
}

// Close implements Cache.
func (c *Redis) Close() error {
	return Error.Wrap(c.db.Close())
}
