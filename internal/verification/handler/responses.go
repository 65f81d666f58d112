package handler

import (
	"encoding/hex"
	"time"

	"attestor/internal/verification/models"
	"attestor/internal/verification/service"
)

// StatusResponse is the HTTP response for verification status reads and the
// 202 body for accepted submissions.
type StatusResponse struct {
	Identity       string     `json:"identity"`
	State          string     `json:"state"`
	Digest         string     `json:"digest,omitempty"`
	Expiry         int64      `json:"expiry,omitempty"`
	TransactionRef string     `json:"transaction_ref,omitempty"`
	SubmittedAt    *time.Time `json:"submitted_at,omitempty"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
}

// FromRecord converts a verification record to an HTTP response.
func FromRecord(rec models.VerificationRecord) *StatusResponse {
	resp := &StatusResponse{
		Identity: rec.Identity.String(),
		State:    string(rec.State),
		Expiry:   rec.Expiry,
	}
	if len(rec.Digest) > 0 {
		resp.Digest = "0x" + hex.EncodeToString(rec.Digest)
	}
	resp.TransactionRef = rec.TransactionRef
	if !rec.SubmittedAt.IsZero() {
		t := rec.SubmittedAt
		resp.SubmittedAt = &t
	}
	if !rec.UpdatedAt.IsZero() {
		t := rec.UpdatedAt
		resp.UpdatedAt = &t
	}
	return resp
}

// ReconcileResponse is the HTTP response for the admin consistency check.
type ReconcileResponse struct {
	Identity    string `json:"identity"`
	LocalState  string `json:"local_state"`
	LedgerValid bool   `json:"ledger_valid"`
	Consistent  bool   `json:"consistent"`
}

// FromReport converts a reconcile report to an HTTP response.
func FromReport(report service.ReconcileReport) *ReconcileResponse {
	return &ReconcileResponse{
		Identity:    report.Identity.String(),
		LocalState:  string(report.LocalState),
		LedgerValid: report.LedgerValid,
		Consistent:  report.Consistent,
	}
}

// StaleResponse is the HTTP response for the admin stale-pending listing.
type StaleResponse struct {
	Count   int               `json:"count"`
	Records []*StatusResponse `json:"records"`
}

// FromRecords converts stale records to an HTTP response.
func FromRecords(recs []models.VerificationRecord) *StaleResponse {
	out := make([]*StatusResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, FromRecord(rec))
	}
	return &StaleResponse{Count: len(out), Records: out}
}
