// Package httputil centralizes JSON encoding and domain error translation for
// HTTP handlers so every endpoint speaks the same envelope.
package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	dErrors "attestor/pkg/domain-errors"
)

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError translates a domain error into the JSON error envelope.
// Internal errors omit the description so store and ledger details never leak
// to callers; attached details (dErrors.Add) become top-level fields.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeInternal
	body := map[string]string{}

	var de *dErrors.Error
	if errors.As(err, &de) {
		code = de.Code
		if code != dErrors.CodeInternal {
			body["error_description"] = de.Message
		}
		for key, value := range de.Details {
			body[key] = value
		}
	}
	body["error"] = string(code)

	WriteJSON(w, dErrors.ToHTTPStatus(code), body)
}

// Validatable lets request types hook validation into DecodeAndPrepare.
type Validatable interface {
	Validate() error
}

// DecodeAndPrepare decodes the request body into T, writing a bad_request
// response and logging when the payload is malformed. If T implements
// Validatable its Validate error is written too. The bool result tells the
// handler whether to continue.
func DecodeAndPrepare[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger, ctx context.Context, requestID string) (T, bool) {
	var zero T
	var req T
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if logger != nil {
			logger.WarnContext(ctx, "malformed request body",
				"request_id", requestID,
				"error", err,
			)
		}
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "malformed JSON body"))
		return zero, false
	}
	if v, ok := any(&req).(Validatable); ok {
		if err := v.Validate(); err != nil {
			if logger != nil {
				logger.WarnContext(ctx, "invalid request body",
					"request_id", requestID,
					"error", err,
				)
			}
			WriteError(w, err)
			return zero, false
		}
	}
	return req, true
}
