package models

import "time"

// DuplicateMember is one stored record inside a duplicate group.
type DuplicateMember struct {
	ID        int64          `json:"id"`
	Values    map[string]any `json:"values"`
	Secondary string         `json:"secondary,omitempty"`
}

// DuplicateGroup is a set of stored records sharing a grouping key.
type DuplicateGroup struct {
	Key     []string          `json:"key"`
	Count   int               `json:"count"`
	Members []DuplicateMember `json:"members"`
}

// DuplicateReport is the result of a duplicate scan.
type DuplicateReport struct {
	RecordType string           `json:"record_type"`
	Normalized bool             `json:"normalized"`
	KeyFields  []string         `json:"key_fields"`
	Groups     []DuplicateGroup `json:"groups"`
	LogURL     string           `json:"log_url,omitempty"`
}

// ReferenceMismatch is a stored record whose reference does not resolve.
type ReferenceMismatch struct {
	ID    int64  `json:"id"`
	Value string `json:"value"`
}

// MismatchReport is the result of a reference integrity scan.
type MismatchReport struct {
	RecordType      string              `json:"record_type"`
	Field           string              `json:"field"`
	ReferencedTable string              `json:"referenced_table"`
	Mismatches      []ReferenceMismatch `json:"mismatches"`
	LogURL          string              `json:"log_url,omitempty"`
}

// PruneOptions control duplicate pruning.
type PruneOptions struct {
	DryRun  bool `json:"dry_run"`
	KeepOne bool `json:"keep_one"`
}

// PruneResult reports what a prune kept and deleted (or would delete).
type PruneResult struct {
	RecordType string  `json:"record_type"`
	DryRun     bool    `json:"dry_run"`
	Groups     int     `json:"groups"`
	Kept       []int64 `json:"kept"`
	ToDelete   []int64 `json:"to_delete"`
	Deleted    int     `json:"deleted"`
	LogURL     string  `json:"log_url,omitempty"`
}

// ExportResult points at a generated export workbook.
type ExportResult struct {
	RecordType string `json:"record_type"`
	Rows       int    `json:"rows"`
	LogURL     string `json:"log_url"`
}

// Activity actions.
const (
	ActivityImport = "import"
	ActivityPrune  = "prune"
)

// ActivityLog is one row of the activity_logs table.
type ActivityLog struct {
	ID         int64          `json:"id"`
	Action     string         `json:"action"`
	RecordType string         `json:"record_type"`
	SessionID  string         `json:"session_id,omitempty"`
	Status     string         `json:"status"`
	Summary    map[string]any `json:"summary"`
	LogURL     string         `json:"log_url,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
