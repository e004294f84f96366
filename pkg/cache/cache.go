// Package cache decorates a vector.Backend with a Redis read-through
// cache for single-record lookups.
//
// Entries live under vecstore:{collection}:{gen}:{id}. Writes to one id
// delete its entry and increment vecstore:{collection}:ver:{id}; a read
// only fills the cache if that version is unchanged since before it went
// to the backend, so a fill can never resurrect a deleted or outdated
// record. Bulk changes (delete by filter, collection creation) increment
// vecstore:{collection}:gen so every older entry is orphaned and left to
// expire. Redis failures are logged and the backend is used directly.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Zereker/vecstore/pkg/vector"
)

const keyPrefix = "vecstore:"

// Backend is a caching vector.Backend.
type Backend struct {
	vector.Backend

	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

var _ vector.Backend = (*Backend)(nil)

// Wrap returns backend with a record cache in front of Get. A nil client
// returns backend unchanged.
func Wrap(backend vector.Backend, client *redis.Client, ttl time.Duration) vector.Backend {
	if client == nil {
		return backend
	}
	return &Backend{
		Backend: backend,
		client:  client,
		ttl:     ttl,
		logger:  slog.Default().With("module", "vector-cache", "backend", backend.Name()),
	}
}

func genKey(collection string) string {
	return keyPrefix + collection + ":gen"
}

func recordKey(collection string, gen int64, id string) string {
	return keyPrefix + collection + ":" + strconv.FormatInt(gen, 10) + ":" + id
}

func versionKey(collection, id string) string {
	return keyPrefix + collection + ":ver:" + id
}

// errStale aborts a fill that lost the race against a write.
var errStale = errors.New("cache entry is stale")

// generation returns the current generation of collection; 0 if unset.
func (b *Backend) generation(ctx context.Context, collection string) (int64, error) {
	gen, err := b.client.Get(ctx, genKey(collection)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// lookup resolves the entry key of id and the version the entry must
// still have when it is filled.
func (b *Backend) lookup(ctx context.Context, collection, id string) (key string, version int64, ok bool) {
	values, err := b.client.MGet(ctx, genKey(collection), versionKey(collection, id)).Result()
	if err != nil {
		b.logger.Warn("cache key lookup failed", "collection", collection, "error", err)
		return "", 0, false
	}
	gen, err := counter(values[0])
	if err != nil {
		b.logger.Warn("invalid cache generation", "collection", collection, "error", err)
		return "", 0, false
	}
	version, err = counter(values[1])
	if err != nil {
		b.logger.Warn("invalid cache version", "collection", collection, "id", id, "error", err)
		return "", 0, false
	}
	return recordKey(collection, gen, id), version, true
}

// counter parses an MGET value written by INCR; a missing key is 0.
func counter(v any) (int64, error) {
	if v == nil {
		return 0, nil
	}
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("unexpected counter value %T", v)
	}
	return strconv.ParseInt(s, 10, 64)
}

func (b *Backend) Get(ctx context.Context, collection, id string) (*vector.Record, error) {
	key, version, ok := b.lookup(ctx, collection, id)
	if ok {
		data, err := b.client.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			var rec vector.Record
			if err := json.Unmarshal(data, &rec); err == nil {
				return &rec, nil
			}
			b.logger.Warn("dropping undecodable cache entry", "key", key)
		case !errors.Is(err, redis.Nil):
			b.logger.Warn("cache read failed", "key", key, "error", err)
		}
	}

	rec, err := b.Backend.Get(ctx, collection, id)
	if err != nil {
		return nil, err
	}

	if ok {
		b.fill(ctx, collection, id, key, version, rec)
	}
	return rec, nil
}

// fill stores rec under key unless id was written after version was read.
func (b *Backend) fill(ctx context.Context, collection, id, key string, version int64, rec *vector.Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}

	vkey := versionKey(collection, id)
	err = b.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, vkey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != version {
			return errStale
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, b.ttl)
			return nil
		})
		return err
	}, vkey)

	switch {
	case err == nil:
	case errors.Is(err, errStale), errors.Is(err, redis.TxFailedErr):
		b.logger.Debug("skipped stale cache fill", "key", key)
	default:
		b.logger.Warn("cache write failed", "key", key, "error", err)
	}
}

func (b *Backend) Insert(ctx context.Context, collection string, records []vector.Record) ([]error, error) {
	errs, err := b.Backend.Insert(ctx, collection, records)
	if err != nil {
		return errs, err
	}
	ids := make([]string, 0, len(records))
	for i, rec := range records {
		if i < len(errs) && errs[i] != nil {
			continue
		}
		ids = append(ids, rec.ID)
	}
	b.invalidate(ctx, collection, ids...)
	return errs, nil
}

func (b *Backend) Update(ctx context.Context, collection, id string, upd vector.RecordUpdate) error {
	err := b.Backend.Update(ctx, collection, id, upd)
	b.invalidate(ctx, collection, id)
	return err
}

func (b *Backend) Delete(ctx context.Context, collection, id string) error {
	err := b.Backend.Delete(ctx, collection, id)
	b.invalidate(ctx, collection, id)
	return err
}

func (b *Backend) DeleteByFilter(ctx context.Context, collection string, filter vector.Filter) (int, error) {
	n, err := b.Backend.DeleteByFilter(ctx, collection, filter)
	if err == nil && n == 0 {
		return 0, nil
	}
	b.bump(ctx, collection)
	return n, err
}

func (b *Backend) CreateCollection(ctx context.Context, c vector.Collection) error {
	if err := b.Backend.CreateCollection(ctx, c); err != nil {
		return err
	}
	b.bump(ctx, c.Name)
	return nil
}

// invalidate advances the version of every id, then drops their entries.
func (b *Backend) invalidate(ctx context.Context, collection string, ids ...string) {
	if len(ids) == 0 {
		return
	}
	gen, err := b.generation(ctx, collection)
	if err != nil {
		b.logger.Warn("cache generation lookup failed", "collection", collection, "error", err)
		gen = -1
	}

	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			vkey := versionKey(collection, id)
			pipe.Incr(ctx, vkey)
			if b.ttl > 0 {
				pipe.Expire(ctx, vkey, versionTTL(b.ttl))
			}
			if gen >= 0 {
				pipe.Del(ctx, recordKey(collection, gen, id))
			}
		}
		return nil
	})
	if err != nil {
		b.logger.Warn("cache invalidation failed", "collection", collection, "error", err)
	}
}

// versionTTL bounds how long version keys linger; reads in flight finish
// long before it.
func versionTTL(ttl time.Duration) time.Duration {
	return 2 * ttl
}

func (b *Backend) bump(ctx context.Context, collection string) {
	if err := b.client.Incr(ctx, genKey(collection)).Err(); err != nil {
		b.logger.Warn("cache generation bump failed", "collection", collection, "error", err)
	}
}
