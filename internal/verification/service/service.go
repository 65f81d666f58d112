// Package service implements the issuance coordinator: it validates incoming
// verification requests against the status store, transitions state, and
// drives the attestation codec and ledger client from an asynchronous
// processor. The store's atomic check-and-set is the only concurrency control
// point; the coordinator never holds cross-identity locks.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"attestor/internal/attestation"
	"attestor/internal/audit"
	"attestor/internal/verification/metrics"
	"attestor/internal/verification/models"
	"attestor/internal/verification/ports"
	"attestor/pkg/domain"
	dErrors "attestor/pkg/domain-errors"
	"attestor/pkg/platform/sentinel"
	"attestor/pkg/requestcontext"
)

// Store is the durable status record per identity. Implementations must make
// TryBeginPending atomic: two racing submissions for one identity may never
// both be accepted.
type Store interface {
	Find(ctx context.Context, identity domain.Address) (models.VerificationRecord, error)
	TryBeginPending(ctx context.Context, identity domain.Address, now time.Time) (models.VerificationRecord, error)
	CompleteVerified(ctx context.Context, identity domain.Address, digest []byte, expiry int64, txRef string) error
	CompleteFailed(ctx context.Context, identity domain.Address) error
	ListStalePending(ctx context.Context, updatedBefore time.Time) ([]models.VerificationRecord, error)
}

// Cache is the optional read cache for terminal statuses.
type Cache interface {
	GetVerified(ctx context.Context, identity domain.Address) (models.VerificationRecord, bool)
	PutVerified(ctx context.Context, rec models.VerificationRecord)
}

// Config carries the issuance policy knobs. All are injectable so tests run
// with a zero review delay and tight timeouts.
type Config struct {
	// ValidityWindow is how long an issued attestation stays valid.
	ValidityWindow time.Duration
	// ReviewDelay simulates the off-chain approval window before signing.
	ReviewDelay time.Duration
	// ProcessTimeout bounds one whole issuance task end to end.
	ProcessTimeout time.Duration
	// MaxConcurrent bounds how many identities process ledger work at once.
	MaxConcurrent int64
}

func (c Config) withDefaults() Config {
	if c.ValidityWindow <= 0 {
		c.ValidityWindow = 365 * 24 * time.Hour
	}
	if c.ProcessTimeout <= 0 {
		c.ProcessTimeout = 5 * time.Minute
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 16
	}
	return c
}

// Service is the issuance coordinator.
type Service struct {
	store   Store
	ledger  ports.Ledger
	signer  *attestation.Signer
	cache   Cache
	audit   audit.Publisher
	metrics *metrics.Metrics
	logger  *slog.Logger
	cfg     Config
	sem     *semaphore.Weighted
	tracer  trace.Tracer
	wg      sync.WaitGroup
}

// New constructs the coordinator. cache and metrics may be nil; publisher
// falls back to a noop.
func New(store Store, ledger ports.Ledger, signer *attestation.Signer, cache Cache, publisher audit.Publisher, m *metrics.Metrics, logger *slog.Logger, cfg Config) *Service {
	cfg = cfg.withDefaults()
	if publisher == nil {
		publisher = audit.Noop{}
	}
	return &Service{
		store:   store,
		ledger:  ledger,
		signer:  signer,
		cache:   cache,
		audit:   publisher,
		metrics: m,
		logger:  logger,
		cfg:     cfg,
		sem:     semaphore.NewWeighted(cfg.MaxConcurrent),
		tracer:  otel.Tracer("attestor/verification"),
	}
}

// Submit accepts a verification request and schedules asynchronous issuance.
// It returns the fresh pending record immediately; the caller never blocks on
// ledger interaction.
//
// Errors: CodeConflict with a current_state detail when the identity is
// already pending or verified; CodeInternal on store failure.
func (s *Service) Submit(ctx context.Context, identity domain.Address) (models.VerificationRecord, error) {
	rec, err := s.store.TryBeginPending(ctx, identity, requestcontext.Now(ctx))
	if err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			if s.metrics != nil {
				s.metrics.IncSubmission("conflict")
			}
			conflict := dErrors.New(dErrors.CodeConflict, "verification already "+string(rec.State))
			_ = dErrors.Add(conflict, "current_state", string(rec.State))
			return rec, conflict
		}
		s.logger.ErrorContext(ctx, "begin pending failed",
			"request_id", requestcontext.RequestID(ctx),
			"identity", identity,
			"error", err,
		)
		return models.VerificationRecord{}, dErrors.Wrap(err, dErrors.CodeInternal, "could not accept verification request")
	}

	if s.metrics != nil {
		s.metrics.IncSubmission("accepted")
	}
	s.audit.Emit(ctx, audit.NewEvent(ctx, audit.EventVerificationSubmitted, identity.String()))
	s.logger.InfoContext(ctx, "verification accepted",
		"request_id", requestcontext.RequestID(ctx),
		"identity", identity,
	)

	// One task per accepted submission; the store guarantees at most one is
	// in flight per identity. WithoutCancel keeps request-scoped values for
	// tracing and audit while detaching from the caller's deadline.
	s.wg.Add(1)
	go func(taskCtx context.Context) {
		defer s.wg.Done()
		s.process(taskCtx, identity)
	}(context.WithoutCancel(ctx))

	return rec, nil
}

// process drives one accepted request to its terminal state. Every failure
// routes to completeFailed; a record is never left pending past the bounded
// process timeout.
func (s *Service) process(ctx context.Context, identity domain.Address) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ProcessTimeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "verification.process",
		trace.WithAttributes(attribute.String("identity", identity.String())),
	)
	defer span.End()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.fail(ctx, identity, fmt.Errorf("acquire issuance slot: %w", err))
		return
	}
	defer s.sem.Release(1)

	if s.metrics != nil {
		s.metrics.InFlight.Inc()
		defer s.metrics.InFlight.Dec()
	}

	// Off-chain approval window. Zero in tests.
	if s.cfg.ReviewDelay > 0 {
		select {
		case <-time.After(s.cfg.ReviewDelay):
		case <-ctx.Done():
			s.fail(ctx, identity, fmt.Errorf("review window interrupted: %w", ctx.Err()))
			return
		}
	}

	expiry := time.Now().Add(s.cfg.ValidityWindow).Unix()

	digest, err := attestation.BuildDigest(s.signer.Address(), identity, expiry)
	if err != nil {
		s.fail(ctx, identity, fmt.Errorf("build digest: %w", err))
		return
	}
	signature, err := s.signer.Sign(digest)
	if err != nil {
		s.fail(ctx, identity, fmt.Errorf("sign digest: %w", err))
		return
	}

	submitted := time.Now()
	txRef, err := s.ledger.SubmitAttestation(ctx, identity, digest, expiry, signature)
	if err != nil {
		s.fail(ctx, identity, fmt.Errorf("submit attestation: %w", err))
		return
	}

	status, err := s.ledger.AwaitConfirmation(ctx, txRef)
	if s.metrics != nil {
		s.metrics.ObserveConfirmation(time.Since(submitted))
	}
	if err != nil {
		s.fail(ctx, identity, fmt.Errorf("await confirmation for %s: %w", txRef, err))
		return
	}
	if status != ports.ConfirmationConfirmed {
		s.fail(ctx, identity, fmt.Errorf("transaction %s %s", txRef, status))
		return
	}

	if err := s.store.CompleteVerified(ctx, identity, digest[:], expiry, txRef); err != nil {
		// The attestation is on the ledger but the local record is not
		// verified. Loud log; reconciliation tooling picks it up.
		s.logger.ErrorContext(ctx, "record not marked verified after confirmation",
			"identity", identity,
			"tx_ref", txRef,
			"error", err,
		)
		return
	}

	if s.metrics != nil {
		s.metrics.IncOutcome("verified")
	}
	event := audit.NewEvent(ctx, audit.EventAttestationIssued, identity.String())
	event.TransactionRef = txRef
	s.audit.Emit(ctx, event)
	s.logger.InfoContext(ctx, "attestation issued",
		"identity", identity,
		"tx_ref", txRef,
		"expiry", expiry,
		"duration_ms", time.Since(submitted).Milliseconds(),
	)
}

// fail is the single failure path: mark the record failed and account for it.
// Completion uses a fresh context so a deadline that caused the failure
// cannot also block recording it.
func (s *Service) fail(ctx context.Context, identity domain.Address, cause error) {
	completeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := s.store.CompleteFailed(completeCtx, identity); err != nil {
		s.logger.ErrorContext(ctx, "record not marked failed",
			"identity", identity,
			"cause", cause,
			"error", err,
		)
		return
	}

	if s.metrics != nil {
		s.metrics.IncOutcome("failed")
	}
	event := audit.NewEvent(ctx, audit.EventAttestationFailed, identity.String())
	event.Reason = cause.Error()
	s.audit.Emit(ctx, event)
	s.logger.WarnContext(ctx, "issuance failed",
		"identity", identity,
		"error", cause,
	)
}

// Status is the read-only query surface. Absence reports StateNone; it never
// touches the ledger and never mutates state.
func (s *Service) Status(ctx context.Context, identity domain.Address) (models.VerificationRecord, error) {
	if s.cache != nil {
		if rec, ok := s.cache.GetVerified(ctx, identity); ok {
			return rec, nil
		}
	}

	rec, err := s.store.Find(ctx, identity)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return models.VerificationRecord{Identity: identity, State: models.StateNone}, nil
		}
		return models.VerificationRecord{}, dErrors.Wrap(err, dErrors.CodeInternal, "could not read verification status")
	}

	if s.cache != nil && rec.State == models.StateVerified {
		s.cache.PutVerified(ctx, rec)
	}
	return rec, nil
}

// ReconcileReport compares the local record with the ledger's validity flag.
type ReconcileReport struct {
	Identity    domain.Address
	LocalState  models.State
	LedgerValid bool
	Consistent  bool
}

// Reconcile is the out-of-band consistency check between local belief and
// ledger ground truth. It never mutates the record.
func (s *Service) Reconcile(ctx context.Context, identity domain.Address) (ReconcileReport, error) {
	rec, err := s.Status(ctx, identity)
	if err != nil {
		return ReconcileReport{}, err
	}

	valid, err := s.ledger.IsValid(ctx, identity)
	if err != nil {
		return ReconcileReport{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "ledger validity read failed")
	}

	return ReconcileReport{
		Identity:    identity,
		LocalState:  rec.State,
		LedgerValid: valid,
		Consistent:  (rec.State == models.StateVerified) == valid,
	}, nil
}

// StalePending lists records stuck in pending longer than minAge — the
// operational anomaly the design does not auto-heal.
func (s *Service) StalePending(ctx context.Context, minAge time.Duration) ([]models.VerificationRecord, error) {
	stale, err := s.store.ListStalePending(ctx, requestcontext.Now(ctx).Add(-minAge))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not list stale records")
	}
	return stale, nil
}

// Drain waits for in-flight issuance tasks, up to the context deadline.
// Called during graceful shutdown after the HTTP listener stops accepting.
func (s *Service) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain issuance tasks: %w", ctx.Err())
	}
}
