package service

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"bloodlink/internal/storage"
	id "bloodlink/pkg/domain"
	dErrors "bloodlink/pkg/domain-errors"
	"bloodlink/pkg/platform/sentinel"
)

// storageFault translates a store error that is not a missing record.
// Context expiry is reported as a timeout, everything else as internal.
func storageFault(err error, msg string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return dErrors.Wrap(err, dErrors.CodeTimeout, msg)
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}

// lookupFault maps sentinel.ErrNotFound to a NotFound error with notFoundMsg.
func lookupFault(err error, notFoundMsg, faultMsg string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, notFoundMsg)
	}
	return storageFault(err, faultMsg)
}

// writeRecord commits one staged record. A create on a taken id or an edit of
// a vanished id fails the expectation and leaves the store as it was; either
// mismatch is a storage fault reported with msg.
func (s *Service) writeRecord(ctx context.Context, m storage.Mutation, msg string) error {
	batch := s.stores.NewBatch()
	batch.Add(m)
	if err := batch.Commit(ctx); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return dErrors.Wrap(err, dErrors.CodeInternal, msg)
		}
		return storageFault(err, msg)
	}
	return nil
}

func (s *Service) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "bloodbank."+op, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	}
	span.End()
}

func idAttr(key string, v id.ID) attribute.KeyValue {
	return attribute.String(key, v.String())
}
