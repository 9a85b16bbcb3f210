package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/registrar-office/registrar-engine/pkg/models"
	"github.com/registrar-office/registrar-engine/pkg/services"
)

// multipartMemory is the part of a multipart upload kept in memory; the rest
// spills to temporary files.
const multipartMemory = 32 << 20

// ConfirmImportRequest for POST /api/imports/{type}/confirm
type ConfirmImportRequest struct {
	SessionID  string `json:"session_id"`
	Sheet      string `json:"sheet,omitempty"`
	LooseMatch bool   `json:"loose_match,omitempty"`
}

// CancelImportResponse for POST /api/imports/progress/{sid}/cancel
type CancelImportResponse struct {
	SessionID string `json:"session_id"`
	Canceled  bool   `json:"canceled"`
}

// ImportHandler serves the preview, confirm, progress and cancel endpoints.
type ImportHandler struct {
	importService  services.ImportService
	maxUploadBytes int64
	logger         *zap.Logger
}

// NewImportHandler creates an ImportHandler. Uploads larger than
// maxUploadBytes are rejected.
func NewImportHandler(importService services.ImportService, maxUploadBytes int64, logger *zap.Logger) *ImportHandler {
	return &ImportHandler{
		importService:  importService,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

// RegisterRoutes registers the import routes on the given mux.
func (h *ImportHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/imports/{type}/preview", h.Preview)
	mux.HandleFunc("POST /api/imports/{type}/confirm", h.Confirm)
	mux.HandleFunc("GET /api/imports/progress/{sid}", h.Progress)
	mux.HandleFunc("POST /api/imports/progress/{sid}/cancel", h.Cancel)
}

// Preview handles POST /api/imports/{type}/preview
func (h *ImportHandler) Preview(w http.ResponseWriter, r *http.Request) {
	recordType := r.PathValue("type")

	if r.ContentLength > h.maxUploadBytes {
		writeError(w, h.logger, http.StatusRequestEntityTooLarge, "file_too_large", "Upload exceeds the size limit")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, h.logger, http.StatusRequestEntityTooLarge, "file_too_large", "Upload exceeds the size limit")
			return
		}
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "Expected a multipart form upload")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "missing_file", "Form field 'file' is required")
		return
	}
	defer file.Close()

	preview, err := h.importService.Preview(r.Context(), recordType, header.Filename, file, r.FormValue("sheet"))
	if err != nil {
		writeServiceError(w, h.logger, "Import preview failed", err,
			zap.String("record_type", recordType),
			zap.String("file", header.Filename))
		return
	}
	writeData(w, h.logger, preview)
}

// Confirm handles POST /api/imports/{type}/confirm. The run is detached from
// the request context so a dropped client does not abort it halfway.
func (h *ImportHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	recordType := r.PathValue("type")

	var req ConfirmImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if req.SessionID == "" {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "session_id is required")
		return
	}

	result, err := h.importService.Run(context.WithoutCancel(r.Context()), recordType, req.SessionID, models.ImportOptions{
		Sheet:      req.Sheet,
		LooseMatch: req.LooseMatch,
	})
	if err != nil {
		writeServiceError(w, h.logger, "Import failed", err,
			zap.String("record_type", recordType),
			zap.String("session_id", req.SessionID))
		return
	}
	writeData(w, h.logger, result)
}

// Progress handles GET /api/imports/progress/{sid}
func (h *ImportHandler) Progress(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sid")

	progress, err := h.importService.Progress(sessionID)
	if err != nil {
		writeServiceError(w, h.logger, "Progress lookup failed", err, zap.String("session_id", sessionID))
		return
	}
	writeData(w, h.logger, progress)
}

// Cancel handles POST /api/imports/progress/{sid}/cancel
func (h *ImportHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sid")

	progress, err := h.importService.Progress(sessionID)
	if err != nil {
		writeServiceError(w, h.logger, "Cancel lookup failed", err, zap.String("session_id", sessionID))
		return
	}
	if progress.Done {
		writeError(w, h.logger, http.StatusConflict, "import_finished", "Import has already finished")
		return
	}

	canceled := h.importService.Cancel(sessionID)
	writeData(w, h.logger, CancelImportResponse{SessionID: sessionID, Canceled: canceled})
}
