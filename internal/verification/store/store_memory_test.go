package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"attestor/internal/verification/models"
	"attestor/pkg/domain"
	"attestor/pkg/platform/sentinel"
)

type MemoryStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
}

func (s *MemoryStoreSuite) addr(last byte) domain.Address {
	var a domain.Address
	a[len(a)-1] = last
	a[0] = 0x0a
	return a
}

// TestBeginPending verifies creation and conflict semantics of the atomic
// check-and-set.
func (s *MemoryStoreSuite) TestBeginPending() {
	identity := s.addr(1)

	s.Run("creates a pending record when none exists", func() {
		rec, err := s.store.TryBeginPending(s.ctx, identity, time.Now())
		s.Require().NoError(err)
		s.Equal(models.StatePending, rec.State)
		s.Equal(identity, rec.Identity)
	})

	s.Run("rejects while pending and reports the blocking state", func() {
		rec, err := s.store.TryBeginPending(s.ctx, identity, time.Now())
		s.Require().ErrorIs(err, sentinel.ErrInvalidState)
		s.Equal(models.StatePending, rec.State)
	})

	s.Run("rejects after verified", func() {
		s.Require().NoError(s.store.CompleteVerified(s.ctx, identity, []byte{1, 2}, 42, "0xtx"))

		rec, err := s.store.TryBeginPending(s.ctx, identity, time.Now())
		s.Require().ErrorIs(err, sentinel.ErrInvalidState)
		s.Equal(models.StateVerified, rec.State)
	})
}

// TestRetryAfterFailed verifies that failed is the only state that accepts a
// resubmission and that terminal fields are wiped on retry.
func (s *MemoryStoreSuite) TestRetryAfterFailed() {
	identity := s.addr(2)

	_, err := s.store.TryBeginPending(s.ctx, identity, time.Now())
	s.Require().NoError(err)
	s.Require().NoError(s.store.CompleteFailed(s.ctx, identity))

	rec, err := s.store.TryBeginPending(s.ctx, identity, time.Now())
	s.Require().NoError(err)
	s.Equal(models.StatePending, rec.State)
	s.Empty(rec.Digest)
	s.Zero(rec.Expiry)
	s.Empty(rec.TransactionRef)
}

// TestTerminalTransitions verifies the pending guard on both completions.
func (s *MemoryStoreSuite) TestTerminalTransitions() {
	identity := s.addr(3)

	s.Run("completions require an existing record", func() {
		s.Require().ErrorIs(s.store.CompleteVerified(s.ctx, identity, nil, 1, "x"), sentinel.ErrInvalidState)
		s.Require().ErrorIs(s.store.CompleteFailed(s.ctx, identity), sentinel.ErrInvalidState)
	})

	s.Run("verified sets all terminal fields together", func() {
		_, err := s.store.TryBeginPending(s.ctx, identity, time.Now())
		s.Require().NoError(err)

		s.Require().NoError(s.store.CompleteVerified(s.ctx, identity, []byte{0xaa}, 1700000000, "0xref"))

		rec, err := s.store.Find(s.ctx, identity)
		s.Require().NoError(err)
		s.Equal(models.StateVerified, rec.State)
		s.Equal([]byte{0xaa}, rec.Digest)
		s.Equal(int64(1700000000), rec.Expiry)
		s.Equal("0xref", rec.TransactionRef)
	})

	s.Run("no transition exits verified", func() {
		s.Require().ErrorIs(s.store.CompleteFailed(s.ctx, identity), sentinel.ErrInvalidState)
		s.Require().ErrorIs(s.store.CompleteVerified(s.ctx, identity, nil, 1, "x"), sentinel.ErrInvalidState)
	})
}

// TestConcurrentBeginPending races many submissions for one identity; exactly
// one may win.
func (s *MemoryStoreSuite) TestConcurrentBeginPending() {
	identity := s.addr(4)
	const goroutines = 50

	var wg sync.WaitGroup
	var accepted atomic.Int32
	var rejected atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.TryBeginPending(s.ctx, identity, time.Now())
			if err == nil {
				accepted.Add(1)
			} else {
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), accepted.Load(), "exactly one submission must win")
	s.Equal(int32(goroutines-1), rejected.Load())
}

func (s *MemoryStoreSuite) TestFindAbsent() {
	_, err := s.store.Find(s.ctx, s.addr(5))
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

// TestListStalePending verifies cutoff filtering and oldest-first ordering.
func (s *MemoryStoreSuite) TestListStalePending() {
	old := s.addr(6)
	older := s.addr(7)
	fresh := s.addr(8)
	done := s.addr(9)

	base := time.Now().Add(-time.Hour)
	_, err := s.store.TryBeginPending(s.ctx, older, base.Add(-time.Minute))
	s.Require().NoError(err)
	_, err = s.store.TryBeginPending(s.ctx, old, base)
	s.Require().NoError(err)
	_, err = s.store.TryBeginPending(s.ctx, fresh, time.Now())
	s.Require().NoError(err)
	_, err = s.store.TryBeginPending(s.ctx, done, base)
	s.Require().NoError(err)
	s.Require().NoError(s.store.CompleteVerified(s.ctx, done, []byte{1}, 1, "x"))

	stale, err := s.store.ListStalePending(s.ctx, time.Now().Add(-30*time.Minute))
	s.Require().NoError(err)
	s.Require().Len(stale, 2)
	s.Equal(older, stale[0].Identity)
	s.Equal(old, stale[1].Identity)
}
