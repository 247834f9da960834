// Package storage is the persistent entity store: raw bucketed backends, a
// typed JSON store over them, the shared id sequence and an atomic batch.
package storage

import (
	"context"
	"fmt"

	id "bloodlink/pkg/domain"
	"bloodlink/pkg/platform/sentinel"
)

// Entry is one raw record of a bucket.
type Entry struct {
	ID    id.ID
	Value []byte
}

// Backend stores opaque values by (bucket, id) and owns the id counter.
//
// Get returns sentinel.ErrNotFound for missing keys. Scan returns entries in
// ascending id order. Put replaces the value and reports the previous one.
// Delete exists only so a failed batch can undo an insert.
type Backend interface {
	Get(ctx context.Context, bucket string, key id.ID) ([]byte, error)
	Scan(ctx context.Context, bucket string) ([]Entry, error)
	Put(ctx context.Context, bucket string, key id.ID, value []byte) (prev []byte, existed bool, err error)
	Delete(ctx context.Context, bucket string, key id.ID) error
	// NextSequence returns the current counter value and durably increments it.
	NextSequence(ctx context.Context) (uint64, error)
	Ping(ctx context.Context) error
	Close() error
}

// Expectation constrains the state a key must be in for a staged write.
type Expectation int

const (
	ExpectAny Expectation = iota
	ExpectAbsent
	ExpectPresent
)

func (e Expectation) String() string {
	switch e {
	case ExpectAbsent:
		return "absent"
	case ExpectPresent:
		return "present"
	default:
		return "any"
	}
}

// Mutation is a staged write.
type Mutation struct {
	Bucket string
	ID     id.ID
	Value  []byte
	Expect Expectation
}

// Check reports sentinel.ErrConflict when existed contradicts the expectation.
func (m Mutation) Check(existed bool) error {
	switch {
	case m.Expect == ExpectPresent && !existed:
		return fmt.Errorf("%s/%d expected present: %w", m.Bucket, m.ID, sentinel.ErrConflict)
	case m.Expect == ExpectAbsent && existed:
		return fmt.Errorf("%s/%d expected absent: %w", m.Bucket, m.ID, sentinel.ErrConflict)
	}
	return nil
}

// Batcher is implemented by backends that can apply several mutations
// atomically. Apply checks every expectation before writing anything.
type Batcher interface {
	Apply(ctx context.Context, mutations []Mutation) error
}
