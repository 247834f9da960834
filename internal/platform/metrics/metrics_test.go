package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bloodlink/internal/storage"
	"bloodlink/internal/storage/memory"
)

// sequentialOnly hides the memory backend's Apply.
type sequentialOnly struct {
	storage.Backend
}

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()
	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["go_goroutines"])
}

func TestInstrumentBackend(t *testing.T) {
	ctx := context.Background()

	t.Run("records results per operation", func(t *testing.T) {
		m := NewStorageMetrics(prometheus.NewRegistry(), "memory")
		b := InstrumentBackend(memory.New(), m)

		_, _, err := b.Put(ctx, "donors", 1, []byte(`{}`))
		require.NoError(t, err)
		_, err = b.Get(ctx, "donors", 1)
		require.NoError(t, err)
		_, err = b.Get(ctx, "donors", 2)
		require.Error(t, err)
		_, err = b.NextSequence(ctx)
		require.NoError(t, err)

		assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("put", resultOK)))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("get", resultOK)))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("get", resultNotFound)))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("next_sequence", resultOK)))
		assert.Equal(t, 3, testutil.CollectAndCount(m.Duration))
	})

	t.Run("batching follows the wrapped backend", func(t *testing.T) {
		m := NewStorageMetrics(prometheus.NewRegistry(), "memory")

		batching := InstrumentBackend(memory.New(), m)
		_, ok := batching.(storage.Batcher)
		assert.True(t, ok)

		plain := InstrumentBackend(sequentialOnly{memory.New()}, m)
		_, ok = plain.(storage.Batcher)
		assert.False(t, ok)
	})

	t.Run("failed apply counts a conflict", func(t *testing.T) {
		m := NewStorageMetrics(prometheus.NewRegistry(), "memory")
		b := InstrumentBackend(memory.New(), m)

		batch := storage.NewBatch(b)
		batch.Add(storage.Mutation{Bucket: "patients", ID: 4, Value: []byte(`{}`), Expect: storage.ExpectPresent})
		require.Error(t, batch.Commit(ctx))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("apply", resultConflict)))
	})

	t.Run("unclassified errors", func(t *testing.T) {
		assert.Equal(t, resultError, result(errors.New("disk gone")))
	})
}
