package storage

import (
	"context"
	"encoding/json"
	"fmt"

	id "bloodlink/pkg/domain"
)

// Record pairs a decoded value with its key.
type Record[T any] struct {
	ID    id.ID
	Value *T
}

// Store is a typed view over one bucket. Values are JSON encoded.
type Store[T any] struct {
	backend Backend
	bucket  string
}

// NewStore binds a bucket of backend to the value type T.
func NewStore[T any](backend Backend, bucket string) *Store[T] {
	return &Store[T]{backend: backend, bucket: bucket}
}

func (s *Store[T]) Bucket() string {
	return s.bucket
}

// Get returns the record stored under key, or sentinel.ErrNotFound.
func (s *Store[T]) Get(ctx context.Context, key id.ID) (*T, error) {
	raw, err := s.backend.Get(ctx, s.bucket, key)
	if err != nil {
		return nil, err
	}
	return s.decode(key, raw)
}

// Scan returns every record of the bucket in ascending id order.
func (s *Store[T]) Scan(ctx context.Context) ([]Record[T], error) {
	entries, err := s.backend.Scan(ctx, s.bucket)
	if err != nil {
		return nil, err
	}
	records := make([]Record[T], 0, len(entries))
	for _, e := range entries {
		v, err := s.decode(e.ID, e.Value)
		if err != nil {
			return nil, err
		}
		records = append(records, Record[T]{ID: e.ID, Value: v})
	}
	return records, nil
}

// Upsert writes value under key and returns the value it replaced, or nil
// when the key was new.
func (s *Store[T]) Upsert(ctx context.Context, key id.ID, value *T) (*T, error) {
	raw, err := s.encode(key, value)
	if err != nil {
		return nil, err
	}
	prev, existed, err := s.backend.Put(ctx, s.bucket, key, raw)
	if err != nil {
		return nil, err
	}
	if !existed {
		return nil, nil
	}
	return s.decode(key, prev)
}

// Stage encodes value as a mutation for a Batch.
func (s *Store[T]) Stage(key id.ID, value *T, expect Expectation) (Mutation, error) {
	raw, err := s.encode(key, value)
	if err != nil {
		return Mutation{}, err
	}
	return Mutation{Bucket: s.bucket, ID: key, Value: raw, Expect: expect}, nil
}

func (s *Store[T]) encode(key id.ID, value *T) ([]byte, error) {
	if value == nil {
		return nil, fmt.Errorf("encode %s/%d: nil value", s.bucket, key)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode %s/%d: %w", s.bucket, key, err)
	}
	return raw, nil
}

func (s *Store[T]) decode(key id.ID, raw []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode %s/%d: %w", s.bucket, key, err)
	}
	return &v, nil
}
