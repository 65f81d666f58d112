package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"attestor/internal/verification/models"
	"attestor/pkg/domain"
	"attestor/pkg/platform/sentinel"
)

// InMemory keeps verification records in a mutex-guarded map. It mirrors the
// postgres store's transition semantics exactly so unit tests and dev mode
// exercise the same state machine.
type InMemory struct {
	mu      sync.RWMutex
	records map[domain.Address]models.VerificationRecord
}

func NewInMemory() *InMemory {
	return &InMemory{records: make(map[domain.Address]models.VerificationRecord)}
}

func (s *InMemory) Find(_ context.Context, identity domain.Address) (models.VerificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.records[identity]; ok {
		return rec, nil
	}
	return models.VerificationRecord{}, sentinel.ErrNotFound
}

// TryBeginPending atomically creates a pending record, or resets a failed one,
// clearing any prior terminal fields. On conflict it returns the existing
// record together with sentinel.ErrInvalidState so callers can report the
// current state.
func (s *InMemory) TryBeginPending(_ context.Context, identity domain.Address, now time.Time) (models.VerificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[identity]; ok && existing.State != models.StateFailed {
		return existing, sentinel.ErrInvalidState
	}

	rec := models.VerificationRecord{
		Identity:    identity,
		State:       models.StatePending,
		SubmittedAt: now,
		UpdatedAt:   now,
	}
	s.records[identity] = rec
	return rec, nil
}

// CompleteVerified transitions pending → verified, setting the terminal
// fields together.
func (s *InMemory) CompleteVerified(_ context.Context, identity domain.Address, digest []byte, expiry int64, txRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[identity]
	if !ok || rec.State != models.StatePending {
		return sentinel.ErrInvalidState
	}

	rec.State = models.StateVerified
	rec.Digest = append([]byte(nil), digest...)
	rec.Expiry = expiry
	rec.TransactionRef = txRef
	rec.UpdatedAt = time.Now()
	s.records[identity] = rec
	return nil
}

// CompleteFailed transitions pending → failed. Terminal fields stay unset.
func (s *InMemory) CompleteFailed(_ context.Context, identity domain.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[identity]
	if !ok || rec.State != models.StatePending {
		return sentinel.ErrInvalidState
	}

	rec.State = models.StateFailed
	rec.UpdatedAt = time.Now()
	s.records[identity] = rec
	return nil
}

// ListStalePending returns pending records not touched since the cutoff,
// oldest first. Operational tooling uses this to spot crash leftovers.
func (s *InMemory) ListStalePending(_ context.Context, updatedBefore time.Time) ([]models.VerificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stale []models.VerificationRecord
	for _, rec := range s.records {
		if rec.State == models.StatePending && rec.UpdatedAt.Before(updatedBefore) {
			stale = append(stale, rec)
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		return stale[i].UpdatedAt.Before(stale[j].UpdatedAt)
	})
	return stale, nil
}

// Ping satisfies the health check; the map is always reachable.
func (s *InMemory) Ping(_ context.Context) error {
	return nil
}
