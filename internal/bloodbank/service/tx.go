package service

import (
	"context"
	"sync"
	"time"

	dErrors "bloodlink/pkg/domain-errors"
)

// StoreTx provides the transactional boundary around store access. Writers
// run exclusively; readers share.
type StoreTx interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
	View(ctx context.Context, fn func(ctx context.Context) error) error
}

// defaultTxTimeout is the maximum duration for a transaction whose context
// has no deadline.
const defaultTxTimeout = 5 * time.Second

// LockedTx serializes writers behind one RWMutex. Pledges read two records
// and write both back, so concurrent writers would lose updates without it.
type LockedTx struct {
	mu      sync.RWMutex
	timeout time.Duration
}

func NewLockedTx(timeout time.Duration) *LockedTx {
	if timeout <= 0 {
		timeout = defaultTxTimeout
	}
	return &LockedTx{timeout: timeout}
}

func (t *LockedTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()

	t.mu.Lock()
	defer t.mu.Unlock()

	// Check again after acquiring lock
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	return fn(ctx)
}

func (t *LockedTx) View(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "read aborted: context cancelled")
	}
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()

	t.mu.RLock()
	defer t.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "read aborted: context cancelled")
	}
	return fn(ctx)
}

func (t *LockedTx) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, t.timeout)
}
