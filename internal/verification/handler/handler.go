package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"attestor/internal/verification/models"
	"attestor/internal/verification/service"
	"attestor/pkg/domain"
	dErrors "attestor/pkg/domain-errors"
	"attestor/pkg/platform/httputil"
	"attestor/pkg/requestcontext"
)

// defaultStaleAge is the pending age threshold when the admin caller does not
// pass min_age.
const defaultStaleAge = 15 * time.Minute

// Service defines the interface for verification operations.
type Service interface {
	Submit(ctx context.Context, identity domain.Address) (models.VerificationRecord, error)
	Status(ctx context.Context, identity domain.Address) (models.VerificationRecord, error)
	Reconcile(ctx context.Context, identity domain.Address) (service.ReconcileReport, error)
	StalePending(ctx context.Context, minAge time.Duration) ([]models.VerificationRecord, error)
}

// Handler wires verification endpoints to the issuance coordinator.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs a verification handler with its dependencies.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Register mounts the public verification endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/verifications", h.HandleSubmit)
	r.Get("/verifications/{identity}", h.HandleStatus)
}

// RegisterAdmin mounts the operator endpoints. The caller is expected to wrap
// the router in admin authentication.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Get("/verifications/stale", h.HandleStale)
	r.Get("/verifications/{identity}/reconcile", h.HandleReconcile)
}

// HandleSubmit handles POST /verifications requests. Acceptance is 202: the
// issuance outcome arrives asynchronously and is observed via status reads.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[SubmitRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	identity := req.ParsedIdentity()

	rec, err := h.service.Submit(ctx, identity)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeConflict) {
			h.logger.InfoContext(ctx, "verification submission rejected",
				"request_id", requestID,
				"identity", identity,
				"current_state", rec.State,
			)
		} else {
			h.logger.ErrorContext(ctx, "verification submission failed",
				"request_id", requestID,
				"identity", identity,
				"error", err,
			)
		}
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "verification submitted",
		"request_id", requestID,
		"identity", identity,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	httputil.WriteJSON(w, http.StatusAccepted, FromRecord(rec))
}

// HandleStatus handles GET /verifications/{identity} requests. Unknown
// identities report state "none" rather than 404; the address itself must
// still be well formed.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, err := domain.ParseAddress(chi.URLParam(r, "identity"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	rec, err := h.service.Status(ctx, identity)
	if err != nil {
		h.logger.ErrorContext(ctx, "status read failed",
			"request_id", requestcontext.RequestID(ctx),
			"identity", identity,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, FromRecord(rec))
}

// HandleReconcile handles GET /verifications/{identity}/reconcile requests.
// Read-only: it compares the local record with the ledger and mutates nothing.
func (h *Handler) HandleReconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	identity, err := domain.ParseAddress(chi.URLParam(r, "identity"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	report, err := h.service.Reconcile(ctx, identity)
	if err != nil {
		h.logger.ErrorContext(ctx, "reconcile failed",
			"request_id", requestID,
			"identity", identity,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	if !report.Consistent {
		h.logger.WarnContext(ctx, "local record disagrees with ledger",
			"request_id", requestID,
			"identity", identity,
			"local_state", report.LocalState,
			"ledger_valid", report.LedgerValid,
		)
	}

	httputil.WriteJSON(w, http.StatusOK, FromReport(report))
}

// HandleStale handles GET /verifications/stale requests. min_age is an
// optional Go duration string, for example "30m".
func (h *Handler) HandleStale(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	minAge := defaultStaleAge
	if raw := r.URL.Query().Get("min_age"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "min_age must be a positive duration"))
			return
		}
		minAge = parsed
	}

	recs, err := h.service.StalePending(ctx, minAge)
	if err != nil {
		h.logger.ErrorContext(ctx, "stale listing failed",
			"request_id", requestcontext.RequestID(ctx),
			"min_age", minAge.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "stale pending listed",
		"request_id", requestcontext.RequestID(ctx),
		"min_age", minAge.String(),
		"count", len(recs),
	)

	httputil.WriteJSON(w, http.StatusOK, FromRecords(recs))
}
