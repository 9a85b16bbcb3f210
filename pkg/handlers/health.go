package handlers

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/registrar-office/registrar-engine/pkg/config"
	"github.com/registrar-office/registrar-engine/pkg/registry"
)

const readinessTimeout = 2 * time.Second

// Pinger reports whether the record store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingResponse describes the running service.
type PingResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Service     string `json:"service"`
	GoVersion   string `json:"go_version"`
	Hostname    string `json:"hostname"`
	Environment string `json:"environment"`
}

// ReadyResponse is returned by GET /ready. Schema drift is reported but
// does not make the service unready.
type ReadyResponse struct {
	Database    string           `json:"database"`
	RecordTypes int              `json:"record_types"`
	SchemaDrift []registry.Drift `json:"schema_drift"`
}

// HealthHandler serves liveness, readiness and version endpoints.
type HealthHandler struct {
	cfg    *config.Config
	store  Pinger
	reg    *registry.Registry
	drift  []registry.Drift
	logger *zap.Logger
}

// NewHealthHandler creates a HealthHandler. drift is the result of the
// startup schema verification.
func NewHealthHandler(cfg *config.Config, store Pinger, reg *registry.Registry, drift []registry.Drift, logger *zap.Logger) *HealthHandler {
	if drift == nil {
		drift = []registry.Drift{}
	}
	return &HealthHandler{cfg: cfg, store: store, reg: reg, drift: drift, logger: logger}
}

// RegisterRoutes registers the health routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ready", h.Ready)
	mux.HandleFunc("GET /ping", h.Ping)
}

// Health handles GET /health. It never touches the database.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	resp := ReadyResponse{Database: "ok", RecordTypes: len(h.reg.List()), SchemaDrift: h.drift}
	status := http.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("Readiness check failed", zap.Error(err))
		resp.Database = "unreachable"
		status = http.StatusServiceUnavailable
	}

	if err := WriteJSON(w, status, ApiResponse{Success: status == http.StatusOK, Data: resp}); err != nil {
		h.logger.Error("Failed to encode readiness response", zap.Error(err))
	}
}

// Ping handles GET /ping
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	hostname, _ := os.Hostname()

	response := PingResponse{
		Status:      "ok",
		Version:     h.cfg.Version,
		Service:     "registrar-engine",
		GoVersion:   runtime.Version(),
		Hostname:    hostname,
		Environment: h.cfg.Env,
	}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode ping response", zap.Error(err))
	}
}
