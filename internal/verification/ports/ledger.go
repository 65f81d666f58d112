// Package ports declares the external collaborators the issuance coordinator
// consumes. Adapters live elsewhere; the coordinator depends only on these
// narrow interfaces so tests can substitute fakes.
package ports

import (
	"context"
	"errors"

	"attestor/internal/attestation"
	"attestor/pkg/domain"
)

// ConfirmationStatus is the terminal outcome of a ledger transaction.
type ConfirmationStatus string

const (
	ConfirmationConfirmed ConfirmationStatus = "confirmed"
	ConfirmationReverted  ConfirmationStatus = "reverted"
)

// Ledger-layer sentinel errors. Implementations wrap these so the
// coordinator can route both to the failure path without knowing transport
// details.
var (
	ErrSubmissionRejected  = errors.New("ledger: submission rejected")
	ErrConfirmationTimeout = errors.New("ledger: confirmation timed out")
)

// Ledger submits signed attestations to the registry and reports their fate.
//
// SubmitAttestation's four arguments are the exact and complete submission
// payload; the registry validates the signature against the digest it
// recomputes from (issuer, subject, expiry).
type Ledger interface {
	SubmitAttestation(ctx context.Context, subject domain.Address, digest attestation.Digest, expiry int64, signature []byte) (string, error)
	AwaitConfirmation(ctx context.Context, txRef string) (ConfirmationStatus, error)

	// IsValid is the out-of-band reconciliation read; the coordinator never
	// calls it in steady state.
	IsValid(ctx context.Context, subject domain.Address) (bool, error)
}
