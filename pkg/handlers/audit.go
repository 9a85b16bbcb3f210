package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/registrar-office/registrar-engine/pkg/models"
	"github.com/registrar-office/registrar-engine/pkg/services"
)

// PruneRequest for POST /api/audit/{type}/prune. DryRun defaults to true so
// a bare request never deletes.
type PruneRequest struct {
	DryRun  *bool `json:"dry_run,omitempty"`
	KeepOne bool  `json:"keep_one,omitempty"`
}

// AuditHandler serves the duplicate and reference integrity endpoints.
type AuditHandler struct {
	auditor services.AuditorService
	logger  *zap.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(auditor services.AuditorService, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{auditor: auditor, logger: logger}
}

// RegisterRoutes registers the audit routes on the given mux.
func (h *AuditHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/audit/{type}/duplicates", h.Duplicates)
	mux.HandleFunc("GET /api/audit/{type}/reference-mismatches", h.ReferenceMismatches)
	mux.HandleFunc("POST /api/audit/{type}/prune", h.Prune)
}

// Duplicates handles GET /api/audit/{type}/duplicates?normalize=true|false.
// Grouping is normalized unless normalize=false.
func (h *AuditHandler) Duplicates(w http.ResponseWriter, r *http.Request) {
	recordType := r.PathValue("type")

	normalized, ok := ParseBoolQuery(w, r, "normalize", true, h.logger)
	if !ok {
		return
	}

	report, err := h.auditor.FindDuplicates(r.Context(), recordType, normalized)
	if err != nil {
		writeServiceError(w, h.logger, "Duplicate scan failed", err, zap.String("record_type", recordType))
		return
	}
	writeData(w, h.logger, report)
}

// ReferenceMismatches handles GET /api/audit/{type}/reference-mismatches
func (h *AuditHandler) ReferenceMismatches(w http.ResponseWriter, r *http.Request) {
	recordType := r.PathValue("type")

	report, err := h.auditor.FindReferenceMismatches(r.Context(), recordType)
	if err != nil {
		writeServiceError(w, h.logger, "Reference scan failed", err, zap.String("record_type", recordType))
		return
	}
	writeData(w, h.logger, report)
}

// Prune handles POST /api/audit/{type}/prune. An empty body is a dry run.
func (h *AuditHandler) Prune(w http.ResponseWriter, r *http.Request) {
	recordType := r.PathValue("type")

	var req PruneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	opts := models.PruneOptions{DryRun: true, KeepOne: req.KeepOne}
	if req.DryRun != nil {
		opts.DryRun = *req.DryRun
	}

	result, err := h.auditor.PruneDuplicates(r.Context(), recordType, opts)
	if err != nil {
		writeServiceError(w, h.logger, "Prune failed", err,
			zap.String("record_type", recordType),
			zap.Bool("dry_run", opts.DryRun))
		return
	}
	writeData(w, h.logger, result)
}
