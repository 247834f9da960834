// Package redis is a storage backend on a Redis server. Each bucket is a hash
// whose fields are decimal ids; the id counter is a plain INCR key.
package redis

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/redis/go-redis/v9"

	"bloodlink/internal/storage"
	id "bloodlink/pkg/domain"
	"bloodlink/pkg/platform/sentinel"
)

// DefaultPrefix namespaces every key the backend writes.
const DefaultPrefix = "bloodlink"

// maxApplyAttempts bounds optimistic retries when a watched bucket changes
// between WATCH and EXEC.
const maxApplyAttempts = 5

// putScript swaps a hash field and returns the old value in one round trip.
var putScript = redis.NewScript(`
local prev = redis.call('HGET', KEYS[1], ARGV[1])
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
return prev
`)

type Backend struct {
	client *redis.Client
	prefix string
}

// New takes ownership of client; Close closes it.
func New(client *redis.Client, prefix string) *Backend {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Backend{client: client, prefix: prefix}
}

func (b *Backend) bucketKey(bucket string) string {
	return b.prefix + ":records:" + bucket
}

func (b *Backend) sequenceKey() string {
	return b.prefix + ":sequence"
}

func field(key id.ID) string {
	return strconv.FormatUint(uint64(key), 10)
}

func translate(err error) error {
	switch {
	case errors.Is(err, redis.Nil):
		return sentinel.ErrNotFound
	case errors.Is(err, redis.ErrClosed):
		return sentinel.ErrUnavailable
	}
	return err
}

func (b *Backend) Get(ctx context.Context, bucket string, key id.ID) ([]byte, error) {
	v, err := b.client.HGet(ctx, b.bucketKey(bucket), field(key)).Bytes()
	if err != nil {
		return nil, fmt.Errorf("get %s/%d: %w", bucket, key, translate(err))
	}
	return v, nil
}

func (b *Backend) Scan(ctx context.Context, bucket string) ([]storage.Entry, error) {
	all, err := b.client.HGetAll(ctx, b.bucketKey(bucket)).Result()
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", bucket, translate(err))
	}
	entries := make([]storage.Entry, 0, len(all))
	for f, v := range all {
		k, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("scan %s: malformed field %q", bucket, f)
		}
		entries = append(entries, storage.Entry{ID: id.ID(k), Value: []byte(v)})
	}
	// hash fields come back unordered
	slices.SortFunc(entries, func(a, b storage.Entry) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return entries, nil
}

func (b *Backend) Put(ctx context.Context, bucket string, key id.ID, value []byte) ([]byte, bool, error) {
	prev, err := putScript.Run(ctx, b.client, []string{b.bucketKey(bucket)}, field(key), value).Text()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("put %s/%d: %w", bucket, key, translate(err))
	}
	return []byte(prev), true, nil
}

func (b *Backend) Delete(ctx context.Context, bucket string, key id.ID) error {
	if err := b.client.HDel(ctx, b.bucketKey(bucket), field(key)).Err(); err != nil {
		return fmt.Errorf("delete %s/%d: %w", bucket, key, translate(err))
	}
	return nil
}

func (b *Backend) NextSequence(ctx context.Context) (uint64, error) {
	v, err := b.client.Incr(ctx, b.sequenceKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("next sequence: %w", translate(err))
	}
	return uint64(v - 1), nil
}

// Apply watches every touched bucket, checks expectations, then writes all
// mutations in one MULTI/EXEC. A concurrent change to a watched bucket aborts
// the EXEC and the attempt is retried.
func (b *Backend) Apply(ctx context.Context, mutations []storage.Mutation) error {
	keys := make([]string, 0, len(mutations))
	for _, m := range mutations {
		if k := b.bucketKey(m.Bucket); !slices.Contains(keys, k) {
			keys = append(keys, k)
		}
	}

	apply := func(tx *redis.Tx) error {
		for _, m := range mutations {
			existed, err := tx.HExists(ctx, b.bucketKey(m.Bucket), field(m.ID)).Result()
			if err != nil {
				return fmt.Errorf("apply %s/%d: %w", m.Bucket, m.ID, translate(err))
			}
			if err := m.Check(existed); err != nil {
				return err
			}
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, m := range mutations {
				pipe.HSet(ctx, b.bucketKey(m.Bucket), field(m.ID), m.Value)
			}
			return nil
		})
		return err
	}

	var err error
	for range maxApplyAttempts {
		err = b.client.Watch(ctx, apply, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("apply batch: %w", translate(err))
	}
	return nil
}

func (b *Backend) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w: %w", sentinel.ErrUnavailable, err)
	}
	return nil
}

func (b *Backend) Close() error {
	return b.client.Close()
}

var (
	_ storage.Backend = (*Backend)(nil)
	_ storage.Batcher = (*Backend)(nil)
)
