//go:build integration

package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"attestor/internal/verification/models"
	"attestor/pkg/domain"
	"attestor/pkg/platform/sentinel"
	"attestor/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *Postgres
	ctx   context.Context
}

func TestPostgresStoreSuite(t *testing.T) {
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.ctx = context.Background()
	s.pg = containers.NewPostgresContainer(s.T())
	s.store = NewPostgres(s.pg.DB)
	s.Require().NoError(s.store.EnsureSchema(s.ctx))
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.pg.Truncate(s.ctx))
}

func (s *PostgresStoreSuite) addr(last byte) domain.Address {
	var a domain.Address
	a[0] = 0x0c
	a[len(a)-1] = last
	return a
}

func (s *PostgresStoreSuite) TestBeginPendingCreatesRecord() {
	identity := s.addr(1)
	now := time.Now()

	rec, err := s.store.TryBeginPending(s.ctx, identity, now)
	s.Require().NoError(err)
	s.Equal(models.StatePending, rec.State)
	s.Empty(rec.Digest)
	s.Empty(rec.TransactionRef)
	s.Zero(rec.Expiry)

	found, err := s.store.Find(s.ctx, identity)
	s.Require().NoError(err)
	s.Equal(models.StatePending, found.State)
	s.WithinDuration(now, found.SubmittedAt, time.Second)
}

func (s *PostgresStoreSuite) TestBeginPendingConflictsReturnExistingState() {
	identity := s.addr(2)

	_, err := s.store.TryBeginPending(s.ctx, identity, time.Now())
	s.Require().NoError(err)

	existing, err := s.store.TryBeginPending(s.ctx, identity, time.Now())
	s.Require().ErrorIs(err, sentinel.ErrInvalidState)
	s.Equal(models.StatePending, existing.State)

	s.Require().NoError(s.store.CompleteVerified(s.ctx, identity, []byte{0x01}, 42, "0xtx"))

	existing, err = s.store.TryBeginPending(s.ctx, identity, time.Now())
	s.Require().ErrorIs(err, sentinel.ErrInvalidState)
	s.Equal(models.StateVerified, existing.State)
}

func (s *PostgresStoreSuite) TestRetryAfterFailedWipesTerminalFields() {
	identity := s.addr(3)

	_, err := s.store.TryBeginPending(s.ctx, identity, time.Now())
	s.Require().NoError(err)
	s.Require().NoError(s.store.CompleteFailed(s.ctx, identity))

	rec, err := s.store.TryBeginPending(s.ctx, identity, time.Now())
	s.Require().NoError(err)
	s.Equal(models.StatePending, rec.State)
	s.Empty(rec.Digest)
	s.Empty(rec.TransactionRef)
	s.Zero(rec.Expiry)
}

func (s *PostgresStoreSuite) TestCompletionsRequirePending() {
	identity := s.addr(4)

	s.Run("absent record", func() {
		err := s.store.CompleteVerified(s.ctx, identity, []byte{0x01}, 42, "0xtx")
		s.Require().ErrorIs(err, sentinel.ErrInvalidState)
	})

	s.Run("terminal record stays put", func() {
		_, err := s.store.TryBeginPending(s.ctx, identity, time.Now())
		s.Require().NoError(err)
		s.Require().NoError(s.store.CompleteVerified(s.ctx, identity, []byte{0x01}, 42, "0xtx"))

		s.Require().ErrorIs(s.store.CompleteFailed(s.ctx, identity), sentinel.ErrInvalidState)
		s.Require().ErrorIs(s.store.CompleteVerified(s.ctx, identity, []byte{0x02}, 43, "0xother"), sentinel.ErrInvalidState)

		rec, err := s.store.Find(s.ctx, identity)
		s.Require().NoError(err)
		s.Equal(models.StateVerified, rec.State)
		s.Equal([]byte{0x01}, rec.Digest)
		s.Equal("0xtx", rec.TransactionRef)
	})
}

func (s *PostgresStoreSuite) TestConcurrentBeginPendingAdmitsExactlyOne() {
	identity := s.addr(5)
	const callers = 20

	var wg sync.WaitGroup
	results := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.TryBeginPending(s.ctx, identity, time.Now())
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var accepted, conflicted int
	for err := range results {
		switch {
		case err == nil:
			accepted++
		default:
			s.Require().ErrorIs(err, sentinel.ErrInvalidState)
			conflicted++
		}
	}
	s.Equal(1, accepted)
	s.Equal(callers-1, conflicted)
}

func (s *PostgresStoreSuite) TestListStalePendingOldestFirst() {
	older := s.addr(6)
	newer := s.addr(7)
	verified := s.addr(8)

	_, err := s.store.TryBeginPending(s.ctx, older, time.Now().Add(-2*time.Hour))
	s.Require().NoError(err)
	_, err = s.store.TryBeginPending(s.ctx, newer, time.Now().Add(-time.Hour))
	s.Require().NoError(err)
	_, err = s.store.TryBeginPending(s.ctx, verified, time.Now().Add(-3*time.Hour))
	s.Require().NoError(err)
	s.Require().NoError(s.store.CompleteVerified(s.ctx, verified, []byte{0x01}, 42, "0xtx"))

	stale, err := s.store.ListStalePending(s.ctx, time.Now().Add(-30*time.Minute))
	s.Require().NoError(err)
	s.Require().Len(stale, 2)
	s.Equal(older, stale[0].Identity)
	s.Equal(newer, stale[1].Identity)
}

func (s *PostgresStoreSuite) TestPing() {
	s.Require().NoError(s.store.Ping(s.ctx))
}
