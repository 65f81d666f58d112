package handler

import (
	"strings"

	"attestor/pkg/domain"
	dErrors "attestor/pkg/domain-errors"
)

// SubmitRequest is the HTTP request body for POST /v1/verifications.
type SubmitRequest struct {
	Identity string `json:"identity"`

	// Parsed value (populated by Validate)
	parsedIdentity domain.Address
}

// Validate validates and parses the request.
// Implements the Validatable interface for httputil.DecodeAndPrepare.
func (r *SubmitRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}

	r.Identity = strings.TrimSpace(r.Identity)
	if r.Identity == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "identity is required")
	}

	identity, err := domain.ParseAddress(r.Identity)
	if err != nil {
		return err
	}
	if identity.IsZero() {
		return dErrors.New(dErrors.CodeInvalidInput, "identity must not be the zero address")
	}
	r.parsedIdentity = identity

	return nil
}

// ParsedIdentity returns the validated identity address.
func (r *SubmitRequest) ParsedIdentity() domain.Address {
	return r.parsedIdentity
}
