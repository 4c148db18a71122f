// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kelechi-nwosu/exam-registration-core/internal/export"
	"github.com/kelechi-nwosu/exam-registration-core/internal/jobstore"
	"github.com/kelechi-nwosu/exam-registration-core/internal/model"
	"github.com/kelechi-nwosu/exam-registration-core/internal/repository"
	"github.com/kelechi-nwosu/exam-registration-core/internal/service"
)

// API holds all HTTP handlers for the registration core.
type API struct {
	ledger  *service.LedgerService
	bulk    *service.BulkService
	exports *export.Orchestrator
}

// NewAPI constructs the handler set.
func NewAPI(ledger *service.LedgerService, bulk *service.BulkService, exports *export.Orchestrator) *API {
	return &API{ledger: ledger, bulk: bulk, exports: exports}
}

// Routes mounts all endpoints on a router.
func (a *API) Routes(r chi.Router) {
	r.Route("/coordinator", func(r chi.Router) {
		r.Post("/slots/purchase", a.RecordPurchase)
		r.Post("/slots/purchase/{id}/confirm", a.ConfirmPurchase)
		r.Get("/slots/balance", a.GetBalance)
		r.Get("/register/validate", a.ValidateRegistration)
		r.Post("/register", a.Register)
		r.Post("/export", a.CreateExport)
		r.Get("/export/status/{jobId}", a.ExportStatus)
	})
	r.Delete("/registrations/{id}", a.CancelRegistration)
	r.Route("/admin/registrations", func(r chi.Router) {
		r.Post("/bulk-delete", a.BulkDelete)
		r.Post("/bulk-change-center", a.BulkChangeCenter)
		r.Post("/bulk-change-chapter", a.BulkChangeChapter)
		r.Post("/bulk-change-payment-status", a.BulkChangePaymentStatus)
	})
	r.Get("/health", HealthCheck)
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

func decodeJSON(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeServiceError maps the domain error taxonomy onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	var vErr *model.ValidationError
	switch {
	case errors.As(err, &vErr):
		writeError(w, http.StatusBadRequest, vErr.Error())
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, jobstore.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, repository.ErrQuotaExceeded):
		writeError(w, http.StatusConflict, "insufficient slot balance")
	case errors.Is(err, repository.ErrConcurrencyConflict):
		writeError(w, http.StatusConflict, "conflicting registration in progress, please retry")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// ─── Slot ledger ──────────────────────────────────────────────────────────────

// RecordPurchase handles POST /coordinator/slots/purchase
func (a *API) RecordPurchase(w http.ResponseWriter, r *http.Request) {
	var req model.PurchaseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	p, err := a.ledger.RecordPurchase(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// ConfirmPurchase handles POST /coordinator/slots/purchase/{id}/confirm
func (a *API) ConfirmPurchase(w http.ResponseWriter, r *http.Request) {
	p, err := a.ledger.ConfirmPurchase(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetBalance handles GET /coordinator/slots/balance?coordinator_id=...
func (a *API) GetBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := a.ledger.GetBalance(r.Context(), r.URL.Query().Get("coordinator_id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

// ValidateRegistration handles GET /coordinator/register/validate?coordinator_id=...&slots=N
// This is advisory: the authoritative admission happens in Register.
func (a *API) ValidateRegistration(w http.ResponseWriter, r *http.Request) {
	slots := 1
	if s := r.URL.Query().Get("slots"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "slots must be an integer")
			return
		}
		slots = n
	}
	res, err := a.ledger.ValidateRegistration(r.Context(), r.URL.Query().Get("coordinator_id"), slots)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Register handles POST /coordinator/register
// Performs the concurrency-safe slot admission and registration insert.
func (a *API) Register(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	reg, err := a.ledger.Register(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, reg)
}

// CancelRegistration handles DELETE /registrations/{id}
func (a *API) CancelRegistration(w http.ResponseWriter, r *http.Request) {
	if err := a.ledger.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── Bulk mutations ───────────────────────────────────────────────────────────

type bulkRequest struct {
	RegistrationIDs []string `json:"registrationIds"`
	CenterID        string   `json:"centerId,omitempty"`
	ChapterID       string   `json:"chapterId,omitempty"`
	PaymentStatus   string   `json:"paymentStatus,omitempty"`
}

func (a *API) handleBulk(w http.ResponseWriter, r *http.Request,
	apply func(req bulkRequest) (*model.BulkResult, error)) {
	var req bulkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	res, err := apply(req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// BulkDelete handles POST /admin/registrations/bulk-delete
func (a *API) BulkDelete(w http.ResponseWriter, r *http.Request) {
	a.handleBulk(w, r, func(req bulkRequest) (*model.BulkResult, error) {
		return a.bulk.Delete(r.Context(), req.RegistrationIDs)
	})
}

// BulkChangeCenter handles POST /admin/registrations/bulk-change-center
func (a *API) BulkChangeCenter(w http.ResponseWriter, r *http.Request) {
	a.handleBulk(w, r, func(req bulkRequest) (*model.BulkResult, error) {
		return a.bulk.ChangeCenter(r.Context(), req.RegistrationIDs, req.CenterID)
	})
}

// BulkChangeChapter handles POST /admin/registrations/bulk-change-chapter
func (a *API) BulkChangeChapter(w http.ResponseWriter, r *http.Request) {
	a.handleBulk(w, r, func(req bulkRequest) (*model.BulkResult, error) {
		return a.bulk.ChangeChapter(r.Context(), req.RegistrationIDs, req.ChapterID)
	})
}

// BulkChangePaymentStatus handles POST /admin/registrations/bulk-change-payment-status
func (a *API) BulkChangePaymentStatus(w http.ResponseWriter, r *http.Request) {
	a.handleBulk(w, r, func(req bulkRequest) (*model.BulkResult, error) {
		return a.bulk.ChangePaymentStatus(r.Context(), req.RegistrationIDs, req.PaymentStatus)
	})
}

// ─── Export jobs ──────────────────────────────────────────────────────────────

type exportRequest struct {
	RequesterID string             `json:"requesterId"`
	Filters     model.ExportFilter `json:"filters"`
}

// CreateExport handles POST /coordinator/export
// Accepts the job and detaches the work; the response carries only the job id.
func (a *API) CreateExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.RequesterID == "" {
		writeError(w, http.StatusBadRequest, "requesterId is required")
		return
	}
	jobID, err := a.exports.CreateJob(r.Context(), req.RequesterID, req.Filters)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID})
}

// ExportStatus handles GET /coordinator/export/status/{jobId}
func (a *API) ExportStatus(w http.ResponseWriter, r *http.Request) {
	job, err := a.exports.GetStatus(r.Context(), chi.URLParam(r, "jobId"))
	if err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to check job status")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
