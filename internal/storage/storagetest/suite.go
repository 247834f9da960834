// Package storagetest holds the behaviour every storage backend must share.
package storagetest

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"bloodlink/internal/storage"
	id "bloodlink/pkg/domain"
	"bloodlink/pkg/platform/sentinel"
)

// BackendSuite runs the shared backend contract. Embed it or run it directly
// with suite.Run after setting Open.
type BackendSuite struct {
	suite.Suite

	// Open returns a fresh, empty backend.
	Open func(t *testing.T) storage.Backend
	// Reopen closes b and opens the same durable data again. Leave nil for
	// backends that do not outlive the process.
	Reopen func(t *testing.T, b storage.Backend) storage.Backend

	backend storage.Backend
	ctx     context.Context
}

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func (s *BackendSuite) SetupTest() {
	s.ctx = context.Background()
	s.backend = s.Open(s.T())
}

func (s *BackendSuite) TearDownTest() {
	if s.backend != nil {
		_ = s.backend.Close()
	}
}

func (s *BackendSuite) TestGetMissing() {
	_, err := s.backend.Get(s.ctx, "hospitals", 42)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *BackendSuite) TestPutReportsPrevious() {
	prev, existed, err := s.backend.Put(s.ctx, "hospitals", 1, []byte(`{"v":1}`))
	s.Require().NoError(err)
	s.False(existed)
	s.Nil(prev)

	prev, existed, err = s.backend.Put(s.ctx, "hospitals", 1, []byte(`{"v":2}`))
	s.Require().NoError(err)
	s.True(existed)
	s.JSONEq(`{"v":1}`, string(prev))

	got, err := s.backend.Get(s.ctx, "hospitals", 1)
	s.Require().NoError(err)
	s.JSONEq(`{"v":2}`, string(got))
}

func (s *BackendSuite) TestScanOrderAndIsolation() {
	for _, key := range []id.ID{300, 2, 1 << 40, 256, 7} {
		_, _, err := s.backend.Put(s.ctx, "patients", key, []byte(`{}`))
		s.Require().NoError(err)
	}
	_, _, err := s.backend.Put(s.ctx, "donors", 5, []byte(`{}`))
	s.Require().NoError(err)

	entries, err := s.backend.Scan(s.ctx, "patients")
	s.Require().NoError(err)
	got := make([]id.ID, 0, len(entries))
	for _, e := range entries {
		got = append(got, e.ID)
	}
	s.Equal([]id.ID{2, 7, 256, 300, 1 << 40}, got)

	empty, err := s.backend.Scan(s.ctx, "hospitals")
	s.Require().NoError(err)
	s.Empty(empty)
}

func (s *BackendSuite) TestDelete() {
	_, _, err := s.backend.Put(s.ctx, "donors", 3, []byte(`{}`))
	s.Require().NoError(err)
	s.Require().NoError(s.backend.Delete(s.ctx, "donors", 3))

	_, err = s.backend.Get(s.ctx, "donors", 3)
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.Require().NoError(s.backend.Delete(s.ctx, "donors", 3), "deleting a missing key is a no-op")
}

func (s *BackendSuite) TestSequenceStartsAtZeroAndIncreases() {
	for want := uint64(0); want < 5; want++ {
		got, err := s.backend.NextSequence(s.ctx)
		s.Require().NoError(err)
		s.Equal(want, got)
	}
}

func (s *BackendSuite) TestSequenceConcurrentCallersGetDistinctValues() {
	const callers = 32
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[uint64]struct{}, callers)
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := s.backend.NextSequence(s.ctx)
			if err != nil {
				s.T().Errorf("next sequence: %v", err)
				return
			}
			mu.Lock()
			seen[v] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()
	s.Len(seen, callers)
}

func (s *BackendSuite) TestTypedStore() {
	store := storage.NewStore[sample](s.backend, "hospitals")

	prev, err := store.Upsert(s.ctx, 9, &sample{Name: "St Mary", Count: 1})
	s.Require().NoError(err)
	s.Nil(prev, "new key reports no previous value")

	prev, err = store.Upsert(s.ctx, 9, &sample{Name: "St Mary", Count: 2})
	s.Require().NoError(err)
	s.Require().NotNil(prev)
	s.Equal(1, prev.Count)

	got, err := store.Get(s.ctx, 9)
	s.Require().NoError(err)
	s.Equal(&sample{Name: "St Mary", Count: 2}, got)

	records, err := store.Scan(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Equal(id.ID(9), records[0].ID)
}

func (s *BackendSuite) TestBatchCommitsAll() {
	store := storage.NewStore[sample](s.backend, "patients")
	_, err := store.Upsert(s.ctx, 1, &sample{Name: "a"})
	s.Require().NoError(err)
	_, err = store.Upsert(s.ctx, 2, &sample{Name: "b"})
	s.Require().NoError(err)

	batch := storage.NewBatch(s.backend)
	m1, err := store.Stage(1, &sample{Name: "a", Count: 1}, storage.ExpectPresent)
	s.Require().NoError(err)
	m2, err := store.Stage(2, &sample{Name: "b", Count: 1}, storage.ExpectPresent)
	s.Require().NoError(err)
	batch.Add(m1, m2)
	s.Require().NoError(batch.Commit(s.ctx))

	for _, key := range []id.ID{1, 2} {
		got, err := store.Get(s.ctx, key)
		s.Require().NoError(err)
		s.Equal(1, got.Count)
	}
}

func (s *BackendSuite) TestBatchExpectationFailureWritesNothing() {
	store := storage.NewStore[sample](s.backend, "patients")
	_, err := store.Upsert(s.ctx, 1, &sample{Name: "a"})
	s.Require().NoError(err)

	batch := storage.NewBatch(s.backend)
	m1, err := store.Stage(1, &sample{Name: "a", Count: 5}, storage.ExpectPresent)
	s.Require().NoError(err)
	m2, err := store.Stage(99, &sample{Name: "ghost"}, storage.ExpectPresent)
	s.Require().NoError(err)
	batch.Add(m1, m2)

	err = batch.Commit(s.ctx)
	s.Require().ErrorIs(err, sentinel.ErrConflict)

	got, err := store.Get(s.ctx, 1)
	s.Require().NoError(err)
	s.Equal(0, got.Count, "first write must not survive")
	_, err = store.Get(s.ctx, 99)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *BackendSuite) TestBatchExpectAbsent() {
	store := storage.NewStore[sample](s.backend, "donors")
	_, err := store.Upsert(s.ctx, 4, &sample{Name: "taken"})
	s.Require().NoError(err)

	batch := storage.NewBatch(s.backend)
	m, err := store.Stage(4, &sample{Name: "other"}, storage.ExpectAbsent)
	s.Require().NoError(err)
	batch.Add(m)
	s.Require().ErrorIs(batch.Commit(s.ctx), sentinel.ErrConflict)

	got, err := store.Get(s.ctx, 4)
	s.Require().NoError(err)
	s.Equal("taken", got.Name)
}

func (s *BackendSuite) TestPing() {
	s.NoError(s.backend.Ping(s.ctx))
}

func (s *BackendSuite) TestSurvivesReopen() {
	if s.Reopen == nil {
		s.T().Skip("backend is not durable")
	}
	store := storage.NewStore[sample](s.backend, "hospitals")
	first, err := s.backend.NextSequence(s.ctx)
	s.Require().NoError(err)
	_, err = store.Upsert(s.ctx, id.ID(first), &sample{Name: "kept"})
	s.Require().NoError(err)

	s.backend = s.Reopen(s.T(), s.backend)

	store = storage.NewStore[sample](s.backend, "hospitals")
	got, err := store.Get(s.ctx, id.ID(first))
	s.Require().NoError(err)
	s.Equal("kept", got.Name)

	next, err := s.backend.NextSequence(s.ctx)
	s.Require().NoError(err)
	s.Equal(first+1, next, "sequence continues after reopen")
}
