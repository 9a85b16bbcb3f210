package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/registrar-office/registrar-engine/pkg/services"
)

// ExportHandler serves table exports and the recent activity feed.
type ExportHandler struct {
	exportService   services.ExportService
	activityService services.ActivityService
	logger          *zap.Logger
}

// NewExportHandler creates an ExportHandler.
func NewExportHandler(exportService services.ExportService, activityService services.ActivityService, logger *zap.Logger) *ExportHandler {
	return &ExportHandler{
		exportService:   exportService,
		activityService: activityService,
		logger:          logger,
	}
}

// RegisterRoutes registers the export and activity routes on the given mux.
func (h *ExportHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/exports/{type}", h.Export)
	mux.HandleFunc("GET /api/activity", h.Activity)
}

// Export handles GET /api/exports/{type}
func (h *ExportHandler) Export(w http.ResponseWriter, r *http.Request) {
	recordType := r.PathValue("type")

	result, err := h.exportService.Export(r.Context(), recordType)
	if err != nil {
		writeServiceError(w, h.logger, "Export failed", err, zap.String("record_type", recordType))
		return
	}
	writeData(w, h.logger, result)
}

// Activity handles GET /api/activity?record_type=&limit=
func (h *ExportHandler) Activity(w http.ResponseWriter, r *http.Request) {
	limit, ok := ParseLimitQuery(w, r, "limit", h.logger)
	if !ok {
		return
	}

	entries, err := h.activityService.Recent(r.Context(), r.URL.Query().Get("record_type"), limit)
	if err != nil {
		writeServiceError(w, h.logger, "Activity lookup failed", err)
		return
	}
	writeData(w, h.logger, entries)
}
