package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/registrar-office/registrar-engine/pkg/apperrors"
	"github.com/registrar-office/registrar-engine/pkg/logging"
)

// ApiResponse wraps data in the format expected by the frontend.
type ApiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(ApiResponse{
		Success: false,
		Error:   errorCode,
		Message: message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// writeData wraps data in a successful ApiResponse.
func writeData(w http.ResponseWriter, logger *zap.Logger, data any) {
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: data}); err != nil {
		logger.Error("Failed to write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, logger *zap.Logger, statusCode int, errorCode, message string) {
	if err := ErrorResponse(w, statusCode, errorCode, message); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}

// statusFor maps a service error to its HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, apperrors.ErrUnknownRecordType):
		return http.StatusNotFound, "unknown_record_type"
	case errors.Is(err, apperrors.ErrSessionNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, apperrors.ErrUnreadableFile):
		return http.StatusBadRequest, "unreadable_file"
	case errors.Is(err, apperrors.ErrSheetNotFound):
		return http.StatusBadRequest, "sheet_not_found"
	case errors.Is(err, apperrors.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, apperrors.ErrNoHeadersMatched):
		return http.StatusUnprocessableEntity, "no_headers_matched"
	case errors.Is(err, apperrors.ErrMissingRequiredColumns):
		return http.StatusUnprocessableEntity, "missing_required_columns"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeServiceError logs err and writes the mapped error response. Server
// errors are logged at ERROR, client errors at WARN.
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, msg string, err error, fields ...zap.Field) {
	status, code := statusFor(err)
	fields = append(fields, zap.Int("status", status), zap.Error(err))
	if status >= http.StatusInternalServerError {
		logger.Error(msg, fields...)
	} else {
		logger.Warn(msg, fields...)
	}
	writeError(w, logger, status, code, logging.SanitizeError(err))
}
