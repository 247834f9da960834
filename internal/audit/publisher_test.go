package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "bloodlink/pkg/domain"
	"bloodlink/pkg/requestcontext"
	"bloodlink/pkg/testutil"
)

var (
	_ Sink = (*InMemoryStore)(nil)
	_ Sink = (*SQLStore)(nil)
	_ Sink = (*KafkaSink)(nil)
	_ Sink = Fanout(nil)
)

func TestPublisher_SyncMode(t *testing.T) {
	store := NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), fixed)
	ctx = requestcontext.WithRequestID(ctx, "req-7")
	ctx = requestcontext.WithActor(ctx, "front-desk")

	require.NoError(t, pub.Emit(ctx, Event{Action: ActionHospitalCreated, Subject: "hospital", SubjectID: 3}))

	events, err := store.ListBySubject(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, events, 1)
	got := events[0]
	assert.NotEqual(t, uuid.Nil, got.ID)
	assert.Equal(t, fixed, got.Timestamp)
	assert.Equal(t, "req-7", got.RequestID)
	assert.Equal(t, "front-desk", got.ActorID)
}

func TestPublisher_KeepsCallerFields(t *testing.T) {
	store := NewInMemoryStore()
	pub := NewPublisher(store)

	eventID := uuid.New()
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, pub.Emit(context.Background(), Event{ID: eventID, Timestamp: at, Action: ActionDonorCreated}))

	events, err := store.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, eventID, events[0].ID)
	assert.Equal(t, at, events[0].Timestamp)
}

func TestPublisher_SyncPropagatesSinkError(t *testing.T) {
	pub := NewPublisher(failingSink{err: errors.New("disk full")})
	err := pub.Emit(context.Background(), Event{Action: ActionDonorCreated})
	assert.ErrorContains(t, err, "disk full")
}

func TestPublisher_AsyncDrainsOnClose(t *testing.T) {
	store := NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(100))

	for range 10 {
		require.NoError(t, pub.Emit(context.Background(), Event{Action: ActionPatientCreated, SubjectID: 1}))
	}
	pub.Close()

	events, err := store.ListBySubject(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, events, 10, "all events should be drained on close")
	assert.Zero(t, pub.Dropped())
}

func TestPublisher_AsyncDropsWhenFull(t *testing.T) {
	testutil.Given(t, "a one-slot buffer whose worker is stuck on the first event", func(t *testing.T) {
		sink := newBlockingSink()
		pub := NewPublisher(sink, WithAsyncBuffer(1))

		require.NoError(t, pub.Emit(context.Background(), Event{Action: ActionDonorCreated}))
		<-sink.started
		require.NoError(t, pub.Emit(context.Background(), Event{Action: ActionDonorCreated}))

		testutil.When(t, "another event arrives", func(t *testing.T) {
			require.NoError(t, pub.Emit(context.Background(), Event{Action: ActionDonorCreated}))

			testutil.Then(t, "it is dropped and counted", func(t *testing.T) {
				assert.Equal(t, uint64(1), pub.Dropped())
			})
		})

		testutil.And(t, "closing delivers what was buffered", func(t *testing.T) {
			close(sink.release)
			pub.Close()
			assert.Equal(t, 2, sink.count())
		})
	})
}

func TestPublisher_EmitAfterCloseWritesThrough(t *testing.T) {
	store := NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(4))
	pub.Close()
	pub.Close()

	require.NoError(t, pub.Emit(context.Background(), Event{Action: ActionHospitalEdited, SubjectID: 2}))
	events, err := store.ListBySubject(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestWorker(t *testing.T) {
	t.Run("returns nil once the inbox is drained", func(t *testing.T) {
		store := NewInMemoryStore()
		inbox := make(chan Event, 2)
		inbox <- Event{Action: ActionDonorCreated}
		inbox <- Event{Action: ActionPatientCreated}
		close(inbox)

		require.NoError(t, NewWorker(store, inbox).Run(context.Background()))
		events, err := store.ListRecent(context.Background(), 10)
		require.NoError(t, err)
		assert.Len(t, events, 2)
	})

	t.Run("keeps going after a failed append", func(t *testing.T) {
		inbox := make(chan Event, 2)
		inbox <- Event{Action: ActionDonorCreated}
		inbox <- Event{Action: ActionDonorCreated}
		close(inbox)

		sink := &countingSink{fail: true}
		require.NoError(t, NewWorker(sink, inbox).Run(context.Background()))
		assert.Equal(t, 2, sink.calls)
	})

	t.Run("stops with the context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := NewWorker(NewInMemoryStore(), make(chan Event)).Run(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestInMemoryStore(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	donor := id.ID(4)

	require.NoError(t, store.Append(ctx, Event{Action: ActionDonorCreated, Subject: "donor", SubjectID: donor}))
	require.NoError(t, store.Append(ctx, Event{Action: ActionPledgedToPatient, Subject: "patient", SubjectID: 9, DonorID: &donor, Pints: 2}))
	require.NoError(t, store.Append(ctx, Event{Action: ActionHospitalCreated, Subject: "hospital", SubjectID: 1}))

	t.Run("subject listing includes pledges made by the donor", func(t *testing.T) {
		events, err := store.ListBySubject(ctx, donor)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.True(t, events[1].IsPledge())
	})

	t.Run("recent listing keeps append order", func(t *testing.T) {
		events, err := store.ListRecent(ctx, 2)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, ActionPledgedToPatient, events[0].Action)
		assert.Equal(t, ActionHospitalCreated, events[1].Action)
	})

	t.Run("non-positive limits return nothing", func(t *testing.T) {
		for _, limit := range []int{0, -1, -100} {
			events, err := store.ListRecent(ctx, limit)
			require.NoError(t, err)
			assert.Empty(t, events, "limit %d", limit)
		}
	})

	t.Run("clear empties the store", func(t *testing.T) {
		store.Clear()
		events, err := store.ListRecent(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, events)
	})
}

func TestBoundedInMemoryStore(t *testing.T) {
	store := NewBoundedInMemoryStore(2)
	ctx := context.Background()
	for i := range 4 {
		require.NoError(t, store.Append(ctx, Event{Action: ActionDonorCreated, SubjectID: id.ID(i)}))
	}

	events, err := store.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, id.ID(2), events[0].SubjectID)
	assert.Equal(t, id.ID(3), events[1].SubjectID)
}

func TestFanout(t *testing.T) {
	a, b := NewInMemoryStore(), NewInMemoryStore()
	broken := failingSink{err: errors.New("broker down")}

	err := Fanout{a, broken, b}.Append(context.Background(), Event{Action: ActionDonorCreated, SubjectID: 1})
	require.ErrorContains(t, err, "broker down")

	for _, s := range []*InMemoryStore{a, b} {
		events, err := s.ListBySubject(context.Background(), 1)
		require.NoError(t, err)
		assert.Len(t, events, 1, "healthy sinks still receive the event")
	}
}

type failingSink struct{ err error }

func (f failingSink) Append(context.Context, Event) error { return f.err }

type countingSink struct {
	calls int
	fail  bool
}

func (c *countingSink) Append(context.Context, Event) error {
	c.calls++
	if c.fail {
		return errors.New("append failed")
	}
	return nil
}

type blockingSink struct {
	started chan struct{}
	release chan struct{}
	store   *InMemoryStore
	first   bool
}

func newBlockingSink() *blockingSink {
	return &blockingSink{
		started: make(chan struct{}),
		release: make(chan struct{}),
		store:   NewInMemoryStore(),
		first:   true,
	}
}

// Append blocks the first call until release is closed. Only the worker
// goroutine calls it.
func (b *blockingSink) Append(ctx context.Context, e Event) error {
	if b.first {
		b.first = false
		close(b.started)
		<-b.release
	}
	return b.store.Append(ctx, e)
}

func (b *blockingSink) count() int {
	events, _ := b.store.ListRecent(context.Background(), 100)
	return len(events)
}
