// Package metrics owns the process registry and the storage instrumentation
// shared by every backend.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"bloodlink/internal/storage"
	id "bloodlink/pkg/domain"
	"bloodlink/pkg/platform/sentinel"
)

// NewRegistry returns a registry preloaded with the Go runtime and process
// collectors. Module metrics register on it instead of the global default.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Storage metric results.
const (
	resultOK       = "ok"
	resultNotFound = "not_found"
	resultConflict = "conflict"
	resultError    = "error"
)

// StorageMetrics records latency and outcome of every backend call.
type StorageMetrics struct {
	Operations *prometheus.CounterVec
	Duration   *prometheus.HistogramVec
}

func NewStorageMetrics(reg prometheus.Registerer, driver string) *StorageMetrics {
	f := promauto.With(prometheus.WrapRegistererWith(prometheus.Labels{"driver": driver}, reg))
	return &StorageMetrics{
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bloodlink_storage_operations_total",
			Help: "Backend calls by operation and result",
		}, []string{"op", "result"}),
		Duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bloodlink_storage_operation_duration_seconds",
			Help:    "Backend call latency by operation",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"op"}),
	}
}

func (m *StorageMetrics) observe(op string, start time.Time, err error) {
	m.Duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	m.Operations.WithLabelValues(op, result(err)).Inc()
}

func result(err error) string {
	switch {
	case err == nil:
		return resultOK
	case errors.Is(err, sentinel.ErrNotFound):
		return resultNotFound
	case errors.Is(err, sentinel.ErrConflict):
		return resultConflict
	default:
		return resultError
	}
}

// InstrumentBackend wraps b so every call is measured. Atomic batching is
// preserved: the wrapper implements storage.Batcher only when b does.
func InstrumentBackend(b storage.Backend, m *StorageMetrics) storage.Backend {
	inner := &instrumented{next: b, m: m}
	if batcher, ok := b.(storage.Batcher); ok {
		return &instrumentedBatcher{instrumented: inner, batcher: batcher}
	}
	return inner
}

type instrumented struct {
	next storage.Backend
	m    *StorageMetrics
}

func (i *instrumented) Get(ctx context.Context, bucket string, key id.ID) ([]byte, error) {
	start := time.Now()
	v, err := i.next.Get(ctx, bucket, key)
	i.m.observe("get", start, err)
	return v, err
}

func (i *instrumented) Scan(ctx context.Context, bucket string) ([]storage.Entry, error) {
	start := time.Now()
	entries, err := i.next.Scan(ctx, bucket)
	i.m.observe("scan", start, err)
	return entries, err
}

func (i *instrumented) Put(ctx context.Context, bucket string, key id.ID, value []byte) ([]byte, bool, error) {
	start := time.Now()
	prev, existed, err := i.next.Put(ctx, bucket, key, value)
	i.m.observe("put", start, err)
	return prev, existed, err
}

func (i *instrumented) Delete(ctx context.Context, bucket string, key id.ID) error {
	start := time.Now()
	err := i.next.Delete(ctx, bucket, key)
	i.m.observe("delete", start, err)
	return err
}

func (i *instrumented) NextSequence(ctx context.Context) (uint64, error) {
	start := time.Now()
	n, err := i.next.NextSequence(ctx)
	i.m.observe("next_sequence", start, err)
	return n, err
}

func (i *instrumented) Ping(ctx context.Context) error {
	return i.next.Ping(ctx)
}

func (i *instrumented) Close() error {
	return i.next.Close()
}

type instrumentedBatcher struct {
	*instrumented
	batcher storage.Batcher
}

func (i *instrumentedBatcher) Apply(ctx context.Context, mutations []storage.Mutation) error {
	start := time.Now()
	err := i.batcher.Apply(ctx, mutations)
	i.m.observe("apply", start, err)
	return err
}
