// Package service orchestrates the blood bank: record creation and edits,
// reads with redaction, and pledges that update a donor and a recipient
// together.
package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"bloodlink/internal/audit"
	"bloodlink/internal/bloodbank/credential"
	"bloodlink/internal/bloodbank/metrics"
	"bloodlink/internal/bloodbank/store"
	id "bloodlink/pkg/domain"
	dErrors "bloodlink/pkg/domain-errors"
	"bloodlink/pkg/requestcontext"
)

const tracerName = "bloodlink/internal/bloodbank/service"

type AuditPublisher interface {
	Emit(ctx context.Context, base audit.Event) error
}

// Service owns the stores, the credential guard and the transaction that
// serializes writes. There is no package-level state.
type Service struct {
	stores         *store.Stores
	guard          credential.Guard
	tx             StoreTx
	logger         *zap.Logger
	metrics        *metrics.Metrics
	auditPublisher AuditPublisher
	tracer         trace.Tracer
	txTimeout      time.Duration
}

type Option func(s *Service)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

// WithTxTimeout bounds transactions whose context carries no deadline.
func WithTxTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.txTimeout = d
	}
}

// WithTracerProvider overrides the global OpenTelemetry provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) {
		if tp != nil {
			s.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithStoreTx replaces the default lock-based transaction.
func WithStoreTx(tx StoreTx) Option {
	return func(s *Service) {
		s.tx = tx
	}
}

// New constructs a Service.
func New(stores *store.Stores, guard credential.Guard, opts ...Option) (*Service, error) {
	if stores == nil {
		return nil, errors.New("stores are required")
	}
	if guard == nil {
		return nil, errors.New("credential guard is required")
	}
	s := &Service{
		stores: stores,
		guard:  guard,
		logger: zap.NewNop(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.tx == nil {
		s.tx = NewLockedTx(s.txTimeout)
	}
	return s, nil
}

// Ping reports whether the backing store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.stores.Ping(ctx)
}

// log returns the service logger carrying the request id when one is set.
func (s *Service) log(ctx context.Context) *zap.Logger {
	if reqID := requestcontext.RequestID(ctx); reqID != "" {
		return s.logger.With(zap.String("request_id", reqID))
	}
	return s.logger
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	s.log(ctx).Info(string(event.Action),
		zap.String("log_type", "audit"),
		zap.String("subject", event.Subject),
		zap.Uint64("subject_id", uint64(event.SubjectID)),
	)
	if s.auditPublisher == nil {
		return
	}
	if err := s.auditPublisher.Emit(ctx, event); err != nil {
		s.log(ctx).Warn("failed to publish audit event",
			zap.String("action", string(event.Action)),
			zap.Error(err),
		)
	}
}

func (s *Service) incrementRecordCreated(kind string) {
	if s.metrics != nil {
		s.metrics.IncrementRecordCreated(kind)
	}
}

func (s *Service) seal(plain string) (string, error) {
	sealed, err := s.guard.Seal(plain)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvalidPayload) {
			return "", err
		}
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to seal credential")
	}
	return sealed, nil
}

// logFailure logs rejected requests at Warn and storage faults at Error.
func (s *Service) logFailure(ctx context.Context, msg string, err error, fields ...zap.Field) {
	code := dErrors.CodeOf(err)
	fields = append(fields, zap.String("code", string(code)), zap.Error(err))
	switch code {
	case dErrors.CodeInternal, dErrors.CodeTimeout:
		s.log(ctx).Error(msg, fields...)
	default:
		s.log(ctx).Warn(msg, fields...)
	}
}

// auditRejection records a failed credential check against subjectID.
func (s *Service) auditRejection(ctx context.Context, err error, subject string, subjectID id.ID) {
	if !dErrors.HasCode(err, dErrors.CodeUnauthorized) {
		return
	}
	s.emit(ctx, audit.Event{
		Action:    audit.ActionCredentialRejected,
		Subject:   subject,
		SubjectID: subjectID,
		Decision:  audit.DecisionDenied,
		Reason:    "credential_mismatch",
	})
}
