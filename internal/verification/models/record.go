package models

import (
	"time"

	"attestor/pkg/domain"
)

// State is the lifecycle state of a verification request.
// Absence of a record means StateNone; it is never stored.
type State string

const (
	StateNone     State = "none"
	StatePending  State = "pending"
	StateVerified State = "verified"
	StateFailed   State = "failed"
)

// Terminal reports whether no further processing touches the record without
// a fresh submission.
func (s State) Terminal() bool {
	return s == StateVerified || s == StateFailed
}

// VerificationRecord is the durable status record, one per identity.
//
// Invariants:
//   - Digest, Expiry, and TransactionRef are set together, exactly once,
//     during the pending → verified transition; never for failed.
//   - A record in pending or verified rejects new submissions; only failed
//     (or absence) accepts one.
type VerificationRecord struct {
	Identity       domain.Address
	State          State
	Digest         []byte
	Expiry         int64
	TransactionRef string
	SubmittedAt    time.Time
	UpdatedAt      time.Time
}
