package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/registrar-office/registrar-engine/pkg/models"
	"github.com/registrar-office/registrar-engine/pkg/registry"
)

// RecordTypeSummary describes one importable record type.
type RecordTypeSummary struct {
	Key            string            `json:"key"`
	DisplayName    string            `json:"display_name"`
	Table          string            `json:"table"`
	Fields         []models.FieldDef `json:"fields"`
	RequiredFields []string          `json:"required_fields"`
	NaturalKey     models.NaturalKey `json:"natural_key"`
	Reference      *models.Reference `json:"reference,omitempty"`
	AuditKeys      []string          `json:"audit_keys,omitempty"`
}

// RecordTypesHandler lists the registered record schemas.
type RecordTypesHandler struct {
	registry *registry.Registry
	logger   *zap.Logger
}

// NewRecordTypesHandler creates a RecordTypesHandler.
func NewRecordTypesHandler(reg *registry.Registry, logger *zap.Logger) *RecordTypesHandler {
	return &RecordTypesHandler{registry: reg, logger: logger}
}

// RegisterRoutes registers the record type routes on the given mux.
func (h *RecordTypesHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/record-types", h.List)
}

// List handles GET /api/record-types
func (h *RecordTypesHandler) List(w http.ResponseWriter, r *http.Request) {
	schemas := h.registry.List()
	out := make([]RecordTypeSummary, 0, len(schemas))
	for _, s := range schemas {
		out = append(out, RecordTypeSummary{
			Key:            s.Key,
			DisplayName:    s.DisplayName,
			Table:          s.Table,
			Fields:         s.Fields,
			RequiredFields: s.RequiredFields(),
			NaturalKey:     s.NaturalKey,
			Reference:      s.Reference,
			AuditKeys:      s.AuditKeys,
		})
	}
	writeData(w, h.logger, out)
}
