// Package memory is a process-local storage backend for tests and ephemeral
// runs.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"bloodlink/internal/storage"
	id "bloodlink/pkg/domain"
	"bloodlink/pkg/platform/sentinel"
)

// Backend keeps buckets in maps guarded by one RWMutex.
type Backend struct {
	mu      sync.RWMutex
	buckets map[string]map[id.ID][]byte
	next    uint64
	closed  bool
}

func New() *Backend {
	return &Backend{buckets: make(map[string]map[id.ID][]byte)}
}

func (b *Backend) Get(_ context.Context, bucket string, key id.ID) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, sentinel.ErrUnavailable
	}
	v, ok := b.buckets[bucket][key]
	if !ok {
		return nil, fmt.Errorf("%s/%d: %w", bucket, key, sentinel.ErrNotFound)
	}
	return slices.Clone(v), nil
}

func (b *Backend) Scan(_ context.Context, bucket string) ([]storage.Entry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, sentinel.ErrUnavailable
	}
	records := b.buckets[bucket]
	entries := make([]storage.Entry, 0, len(records))
	for k, v := range records {
		entries = append(entries, storage.Entry{ID: k, Value: slices.Clone(v)})
	}
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

func (b *Backend) Put(_ context.Context, bucket string, key id.ID, value []byte) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, false, sentinel.ErrUnavailable
	}
	prev, existed := b.put(bucket, key, value)
	return prev, existed, nil
}

func (b *Backend) Delete(_ context.Context, bucket string, key id.ID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return sentinel.ErrUnavailable
	}
	delete(b.buckets[bucket], key)
	return nil
}

func (b *Backend) NextSequence(_ context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, sentinel.ErrUnavailable
	}
	v := b.next
	b.next++
	return v, nil
}

// Apply checks all expectations, then writes, under the write lock.
func (b *Backend) Apply(_ context.Context, mutations []storage.Mutation) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return sentinel.ErrUnavailable
	}
	for _, m := range mutations {
		_, existed := b.buckets[m.Bucket][m.ID]
		if err := m.Check(existed); err != nil {
			return err
		}
	}
	for _, m := range mutations {
		b.put(m.Bucket, m.ID, m.Value)
	}
	return nil
}

func (b *Backend) Ping(context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return sentinel.ErrUnavailable
	}
	return nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *Backend) put(bucket string, key id.ID, value []byte) ([]byte, bool) {
	records, ok := b.buckets[bucket]
	if !ok {
		records = make(map[id.ID][]byte)
		b.buckets[bucket] = records
	}
	prev, existed := records[key]
	records[key] = slices.Clone(value)
	return prev, existed
}

var (
	_ storage.Backend = (*Backend)(nil)
	_ storage.Batcher = (*Backend)(nil)
)
