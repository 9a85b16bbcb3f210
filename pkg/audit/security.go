// Package audit provides security audit logging for SIEM consumption.
// Events are emitted as structured JSON under the "security_audit" logger
// namespace so they can be filtered apart from application logs.
package audit

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventSuspiciousCell is logged when libinjection flags a spreadsheet cell.
	EventSuspiciousCell SecurityEventType = "suspicious_cell"
	// EventBulkDelete is logged whenever the auditor deletes stored records.
	EventBulkDelete SecurityEventType = "bulk_delete"
)

// SecurityEvent is an auditable event with the context needed for SIEM analysis.
type SecurityEvent struct {
	Timestamp  time.Time         `json:"timestamp"`
	EventType  SecurityEventType `json:"event_type"`
	RecordType string            `json:"record_type"`
	SessionID  string            `json:"session_id,omitempty"`
	Details    any               `json:"details"`
	Severity   string            `json:"severity"` // info, warning, critical
}

// SuspiciousCellDetails locates a flagged cell inside an uploaded sheet.
type SuspiciousCellDetails struct {
	Row         int    `json:"row"`
	Field       string `json:"field"`
	Value       string `json:"value"`
	Fingerprint string `json:"fingerprint"`
}

// BulkDeleteDetails summarizes a prune that removed records.
type BulkDeleteDetails struct {
	Table   string  `json:"table"`
	Deleted int     `json:"deleted"`
	IDs     []int64 `json:"ids,omitempty"`
}

// maxLoggedIDs bounds the id list attached to a bulk delete event.
const maxLoggedIDs = 200

// SecurityAuditor logs security events for SIEM consumption.
type SecurityAuditor struct {
	logger *zap.Logger
}

// NewSecurityAuditor creates a security auditor with a dedicated logger namespace.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	return &SecurityAuditor{logger: logger.Named("security_audit")}
}

// LogSuspiciousCell records a spreadsheet value that matched an injection
// signature. The value is still imported as a bound parameter; this is
// observational only.
func (a *SecurityAuditor) LogSuspiciousCell(recordType, sessionID string, details SuspiciousCellDetails) {
	details.Value = truncate(details.Value, 120)
	event := SecurityEvent{
		Timestamp:  time.Now().UTC(),
		EventType:  EventSuspiciousCell,
		RecordType: recordType,
		SessionID:  sessionID,
		Details:    details,
		Severity:   "warning",
	}

	// Marshaling known types cannot fail.
	eventJSON, _ := json.Marshal(event)

	a.logger.Warn("Suspicious spreadsheet cell",
		zap.String("event_json", string(eventJSON)),
		zap.String("record_type", recordType),
		zap.String("session_id", sessionID),
		zap.Int("row", details.Row),
		zap.String("field", details.Field),
		zap.String("fingerprint", details.Fingerprint),
		zap.String("severity", "warning"),
	)
}

// LogBulkDelete records a destructive prune.
func (a *SecurityAuditor) LogBulkDelete(recordType string, details BulkDeleteDetails) {
	if len(details.IDs) > maxLoggedIDs {
		details.IDs = details.IDs[:maxLoggedIDs]
	}
	event := SecurityEvent{
		Timestamp:  time.Now().UTC(),
		EventType:  EventBulkDelete,
		RecordType: recordType,
		Details:    details,
		Severity:   "info",
	}
	eventJSON, _ := json.Marshal(event)

	a.logger.Info("Bulk delete executed",
		zap.String("event_json", string(eventJSON)),
		zap.String("record_type", recordType),
		zap.String("table", details.Table),
		zap.Int("deleted", details.Deleted),
		zap.String("severity", "info"),
	)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
