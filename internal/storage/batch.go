package storage

import (
	"context"
	"errors"
	"fmt"
)

// CommitError reports a batch that failed part way through sequential
// application. RolledBack counts the writes that were undone; RollbackErr is
// set when undoing itself failed and the store may be inconsistent.
type CommitError struct {
	Cause       error
	RolledBack  int
	RollbackErr error
}

func (e *CommitError) Error() string {
	if e.RollbackErr != nil {
		return fmt.Sprintf("commit failed: %v (rollback failed: %v)", e.Cause, e.RollbackErr)
	}
	return fmt.Sprintf("commit failed after %d writes were rolled back: %v", e.RolledBack, e.Cause)
}

func (e *CommitError) Unwrap() []error {
	if e.RollbackErr != nil {
		return []error{e.Cause, e.RollbackErr}
	}
	return []error{e.Cause}
}

// Batch collects mutations and commits them all or none.
type Batch struct {
	backend   Backend
	mutations []Mutation
}

func NewBatch(backend Backend) *Batch {
	return &Batch{backend: backend}
}

func (b *Batch) Add(mutations ...Mutation) {
	b.mutations = append(b.mutations, mutations...)
}

func (b *Batch) Len() int {
	return len(b.mutations)
}

// Commit applies the staged mutations. Backends implementing Batcher apply
// them atomically. Others get sequential writes; on the first failure every
// applied write is reverted in reverse order.
func (b *Batch) Commit(ctx context.Context) error {
	if len(b.mutations) == 0 {
		return nil
	}
	if batcher, ok := b.backend.(Batcher); ok {
		return batcher.Apply(ctx, b.mutations)
	}
	return b.commitSequential(ctx)
}

type applied struct {
	m       Mutation
	prev    []byte
	existed bool
}

func (b *Batch) commitSequential(ctx context.Context) error {
	done := make([]applied, 0, len(b.mutations))
	for _, m := range b.mutations {
		prev, existed, err := b.backend.Put(ctx, m.Bucket, m.ID, m.Value)
		if err != nil {
			return b.rollback(ctx, done, err)
		}
		done = append(done, applied{m: m, prev: prev, existed: existed})
		if err := m.Check(existed); err != nil {
			return b.rollback(ctx, done, err)
		}
	}
	return nil
}

func (b *Batch) rollback(ctx context.Context, done []applied, cause error) error {
	// undo must run even when the caller's context is already cancelled
	ctx = context.WithoutCancel(ctx)
	var errs []error
	for i := len(done) - 1; i >= 0; i-- {
		a := done[i]
		var err error
		if a.existed {
			_, _, err = b.backend.Put(ctx, a.m.Bucket, a.m.ID, a.prev)
		} else {
			err = b.backend.Delete(ctx, a.m.Bucket, a.m.ID)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("undo %s/%d: %w", a.m.Bucket, a.m.ID, err))
		}
	}
	return &CommitError{Cause: cause, RolledBack: len(done), RollbackErr: errors.Join(errs...)}
}
