package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

// ParseBoolQuery reads an optional boolean query parameter, falling back to
// def when it is absent. Writes a 400 and returns false if it is malformed.
func ParseBoolQuery(w http.ResponseWriter, r *http.Request, name string, def bool, logger *zap.Logger) (bool, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		writeError(w, logger, http.StatusBadRequest, "invalid_request", name+" must be true or false")
		return false, false
	}
	return v, true
}

// ParseLimitQuery reads an optional non-negative integer query parameter.
// Zero means the service default.
func ParseLimitQuery(w http.ResponseWriter, r *http.Request, name string, logger *zap.Logger) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, logger, http.StatusBadRequest, "invalid_request", name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}
