package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"attestor/internal/verification/models"
	"attestor/pkg/domain"
	"attestor/pkg/platform/sentinel"
)

// Postgres persists verification records in PostgreSQL. All transitions are
// single statements so the database is the concurrency control point; no two
// callers can both win TryBeginPending for the same identity.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed verification store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS verification_records (
    identity           TEXT PRIMARY KEY,
    state              TEXT NOT NULL,
    attestation_digest BYTEA,
    expiry             BIGINT,
    transaction_ref    TEXT,
    submitted_at       TIMESTAMPTZ NOT NULL,
    updated_at         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_verification_records_state_updated
    ON verification_records (state, updated_at);
`

// EnsureSchema creates the records table if it does not exist yet.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure verification schema: %w", err)
	}
	return nil
}

func (s *Postgres) Find(ctx context.Context, identity domain.Address) (models.VerificationRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT state, attestation_digest, expiry, transaction_ref, submitted_at, updated_at
		FROM verification_records
		WHERE identity = $1`,
		identity.String(),
	)
	rec, err := scanRecord(row, identity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.VerificationRecord{}, sentinel.ErrNotFound
		}
		return models.VerificationRecord{}, fmt.Errorf("find verification record: %w", err)
	}
	return rec, nil
}

// TryBeginPending is the atomic check-and-set guarding duplicate issuance.
// A single upsert either inserts a fresh pending record or resets a failed
// one, wiping its terminal fields; any other current state produces no row
// and surfaces as sentinel.ErrInvalidState with the existing record attached.
func (s *Postgres) TryBeginPending(ctx context.Context, identity domain.Address, now time.Time) (models.VerificationRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO verification_records (identity, state, submitted_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (identity) DO UPDATE
		SET state              = EXCLUDED.state,
		    attestation_digest = NULL,
		    expiry             = NULL,
		    transaction_ref    = NULL,
		    submitted_at       = EXCLUDED.submitted_at,
		    updated_at         = EXCLUDED.updated_at
		WHERE verification_records.state = $4
		RETURNING state, attestation_digest, expiry, transaction_ref, submitted_at, updated_at`,
		identity.String(), string(models.StatePending), now.UTC(), string(models.StateFailed),
	)
	rec, err := scanRecord(row, identity)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.VerificationRecord{}, fmt.Errorf("begin pending: %w", err)
	}

	// Lost the upsert: report the state that blocked us. The record cannot
	// vanish because records are never deleted.
	existing, findErr := s.Find(ctx, identity)
	if findErr != nil {
		return models.VerificationRecord{}, fmt.Errorf("begin pending conflict lookup: %w", findErr)
	}
	return existing, sentinel.ErrInvalidState
}

// CompleteVerified transitions pending → verified, writing the three terminal
// fields in the same statement so the record is never split between old and
// new values.
func (s *Postgres) CompleteVerified(ctx context.Context, identity domain.Address, digest []byte, expiry int64, txRef string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE verification_records
		SET state = $2, attestation_digest = $3, expiry = $4, transaction_ref = $5, updated_at = $6
		WHERE identity = $1 AND state = $7`,
		identity.String(), string(models.StateVerified), digest, expiry, txRef, time.Now().UTC(), string(models.StatePending),
	)
	if err != nil {
		return fmt.Errorf("complete verified: %w", err)
	}
	return requireTransition(res)
}

// CompleteFailed transitions pending → failed; terminal fields stay NULL.
func (s *Postgres) CompleteFailed(ctx context.Context, identity domain.Address) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE verification_records
		SET state = $2, updated_at = $3
		WHERE identity = $1 AND state = $4`,
		identity.String(), string(models.StateFailed), time.Now().UTC(), string(models.StatePending),
	)
	if err != nil {
		return fmt.Errorf("complete failed: %w", err)
	}
	return requireTransition(res)
}

func (s *Postgres) ListStalePending(ctx context.Context, updatedBefore time.Time) ([]models.VerificationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT identity, state, attestation_digest, expiry, transaction_ref, submitted_at, updated_at
		FROM verification_records
		WHERE state = $1 AND updated_at < $2
		ORDER BY updated_at ASC`,
		string(models.StatePending), updatedBefore.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list stale pending: %w", err)
	}
	defer rows.Close()

	var stale []models.VerificationRecord
	for rows.Next() {
		var (
			rec      models.VerificationRecord
			identity string
			state    string
			digest   []byte
			expiry   sql.NullInt64
			txRef    sql.NullString
		)
		if err := rows.Scan(&identity, &state, &digest, &expiry, &txRef, &rec.SubmittedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan stale pending: %w", err)
		}
		addr, err := domain.ParseAddress(identity)
		if err != nil {
			return nil, fmt.Errorf("stored identity %q: %w", identity, err)
		}
		rec.Identity = addr
		rec.State = models.State(state)
		rec.Digest = digest
		rec.Expiry = expiry.Int64
		rec.TransactionRef = txRef.String
		stale = append(stale, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale pending: %w", err)
	}
	return stale, nil
}

// Ping reports store reachability for health checks.
func (s *Postgres) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", sentinel.ErrUnavailable, err)
	}
	return nil
}

func scanRecord(row *sql.Row, identity domain.Address) (models.VerificationRecord, error) {
	var (
		state  string
		digest []byte
		expiry sql.NullInt64
		txRef  sql.NullString
		rec    models.VerificationRecord
	)
	if err := row.Scan(&state, &digest, &expiry, &txRef, &rec.SubmittedAt, &rec.UpdatedAt); err != nil {
		return models.VerificationRecord{}, err
	}
	rec.Identity = identity
	rec.State = models.State(state)
	rec.Digest = digest
	rec.Expiry = expiry.Int64
	rec.TransactionRef = txRef.String
	return rec, nil
}

func requireTransition(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrInvalidState
	}
	return nil
}
