// Package leveldb is an embedded on-disk storage backend built on goleveldb.
//
// Keys are laid out as "r/<bucket>/" followed by the big-endian id, so a
// prefix iteration yields a bucket in ascending id order. The id counter
// lives under its own key outside every bucket prefix.
package leveldb

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"bloodlink/internal/storage"
	id "bloodlink/pkg/domain"
	"bloodlink/pkg/platform/sentinel"
)

var sequenceKey = []byte("meta/sequence")

// Backend serializes writes with a mutex so Put can report the previous value
// and Apply can check expectations before committing its leveldb.Batch.
type Backend struct {
	db *leveldb.DB
	mu sync.Mutex
	wo *opt.WriteOptions
}

// Open opens or creates the database directory at path.
func Open(path string) (*Backend, error) {
	if path == "" {
		return nil, errors.New("leveldb path is required")
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &Backend{db: db, wo: &opt.WriteOptions{Sync: true}}, nil
}

func bucketPrefix(bucket string) []byte {
	return []byte("r/" + bucket + "/")
}

func recordKey(bucket string, key id.ID) []byte {
	k := bucketPrefix(bucket)
	return binary.BigEndian.AppendUint64(k, uint64(key))
}

func translate(err error) error {
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		return sentinel.ErrNotFound
	case errors.Is(err, leveldb.ErrClosed):
		return sentinel.ErrUnavailable
	}
	return err
}

func (b *Backend) Get(_ context.Context, bucket string, key id.ID) ([]byte, error) {
	v, err := b.db.Get(recordKey(bucket, key), nil)
	if err != nil {
		return nil, fmt.Errorf("get %s/%d: %w", bucket, key, translate(err))
	}
	return v, nil
}

func (b *Backend) Scan(_ context.Context, bucket string) ([]storage.Entry, error) {
	prefix := bucketPrefix(bucket)
	iter := b.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	var entries []storage.Entry
	for iter.Next() {
		k := iter.Key()
		if len(k) != len(prefix)+8 {
			continue
		}
		entries = append(entries, storage.Entry{
			ID:    id.ID(binary.BigEndian.Uint64(k[len(prefix):])),
			Value: slices.Clone(iter.Value()),
		})
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", bucket, translate(err))
	}
	return entries, nil
}

func (b *Backend) Put(_ context.Context, bucket string, key id.ID, value []byte) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	k := recordKey(bucket, key)
	prev, err := b.db.Get(k, nil)
	existed := err == nil
	if err != nil && !errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, fmt.Errorf("put %s/%d: %w", bucket, key, translate(err))
	}
	if err := b.db.Put(k, value, b.wo); err != nil {
		return nil, false, fmt.Errorf("put %s/%d: %w", bucket, key, translate(err))
	}
	return prev, existed, nil
}

func (b *Backend) Delete(_ context.Context, bucket string, key id.ID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.db.Delete(recordKey(bucket, key), b.wo); err != nil {
		return fmt.Errorf("delete %s/%d: %w", bucket, key, translate(err))
	}
	return nil
}

func (b *Backend) NextSequence(_ context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var current uint64
	raw, err := b.db.Get(sequenceKey, nil)
	switch {
	case err == nil:
		if len(raw) != 8 {
			return 0, fmt.Errorf("sequence value is %d bytes", len(raw))
		}
		current = binary.BigEndian.Uint64(raw)
	case !errors.Is(err, leveldb.ErrNotFound):
		return 0, fmt.Errorf("read sequence: %w", translate(err))
	}
	if err := b.db.Put(sequenceKey, binary.BigEndian.AppendUint64(nil, current+1), b.wo); err != nil {
		return 0, fmt.Errorf("write sequence: %w", translate(err))
	}
	return current, nil
}

func (b *Backend) Apply(_ context.Context, mutations []storage.Mutation) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	batch := new(leveldb.Batch)
	for _, m := range mutations {
		k := recordKey(m.Bucket, m.ID)
		existed, err := b.db.Has(k, nil)
		if err != nil {
			return fmt.Errorf("apply %s/%d: %w", m.Bucket, m.ID, translate(err))
		}
		if err := m.Check(existed); err != nil {
			return err
		}
		batch.Put(k, m.Value)
	}
	if err := b.db.Write(batch, b.wo); err != nil {
		return fmt.Errorf("apply batch: %w", translate(err))
	}
	return nil
}

func (b *Backend) Ping(context.Context) error {
	if _, err := b.db.GetProperty("leveldb.stats"); err != nil {
		return translate(err)
	}
	return nil
}

func (b *Backend) Close() error {
	return b.db.Close()
}

var (
	_ storage.Backend = (*Backend)(nil)
	_ storage.Batcher = (*Backend)(nil)
)
