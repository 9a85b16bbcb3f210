package models

import "time"

// RowOutcome is the terminal state of one reconciled row.
type RowOutcome string

const (
	RowInserted  RowOutcome = "inserted"
	RowUpdated   RowOutcome = "updated"
	RowUnchanged RowOutcome = "unchanged"
	RowFailed    RowOutcome = "failed"
)

// Import status values recorded in results and activity logs.
const (
	ImportStatusCompleted = "completed"
	ImportStatusCanceled  = "canceled"
	ImportStatusFailed    = "failed"
)

// Header match methods, in priority order.
const (
	MatchExact = "exact"
	MatchAlias = "alias"
	MatchFuzzy = "fuzzy"
)

// UploadSession is a stored upload awaiting confirmation.
// Its ID is derived from the stored file name.
type UploadSession struct {
	ID           string    `json:"session_id"`
	RecordType   string    `json:"record_type"`
	FilePath     string    `json:"-"`
	OriginalName string    `json:"original_name"`
	Sheet        string    `json:"sheet,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ImportProgress is a point-in-time snapshot of an upload session's progress.
type ImportProgress struct {
	SessionID  string     `json:"session_id"`
	RecordType string     `json:"record_type"`
	Total      int        `json:"total"`
	Processed  int        `json:"processed"`
	Inserted   int        `json:"inserted"`
	Updated    int        `json:"updated"`
	Unchanged  int        `json:"unchanged"`
	Failed     int        `json:"failed"`
	Percent    int        `json:"percent"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Done       bool       `json:"done"`
	Canceled   bool       `json:"canceled"`
	Error      string     `json:"error,omitempty"`
	LogURL     string     `json:"log_url,omitempty"`
}

// ColumnMapping records how one spreadsheet column was resolved.
type ColumnMapping struct {
	Index  int    `json:"index"`
	Header string `json:"header"`
	Field  string `json:"field"`
	Method string `json:"method"`
}

// HeaderMapping is the Header Mapper's result for one sheet.
type HeaderMapping struct {
	HeaderToField         map[string]string `json:"header_to_field"`
	Columns               []ColumnMapping   `json:"columns"`
	UnmatchedHeaders      []string          `json:"unmatched_headers"`
	MissingRequiredFields []string          `json:"missing_required_fields"`
}

// ImportOptions tune a confirm run.
type ImportOptions struct {
	Sheet string `json:"sheet,omitempty"`
	// LooseMatch allows an update match on the first composite key field
	// alone when the full composite finds nothing and exactly one record matches.
	LooseMatch bool `json:"loose_match,omitempty"`
}

// ImportPreview is returned after upload, before any write.
type ImportPreview struct {
	SessionID             string            `json:"session_id"`
	RecordType            string            `json:"record_type"`
	Sheet                 string            `json:"sheet"`
	Sheets                []string          `json:"sheets"`
	HeaderToField         map[string]string `json:"header_to_field"`
	Columns               []ColumnMapping   `json:"columns"`
	UnmatchedHeaders      []string          `json:"unmatched_headers"`
	MissingRequiredFields []string          `json:"missing_required_fields"`
	Total                 int               `json:"total"`
	SampleRows            []Record          `json:"sample_rows"`
}

// RowResult is the outcome of one data row.
type RowResult struct {
	Row     int               `json:"row"`
	Outcome RowOutcome        `json:"outcome"`
	ID      int64             `json:"id,omitempty"`
	Reason  string            `json:"reason,omitempty"`
	Values  map[string]string `json:"values,omitempty"`
	Changed []string          `json:"changed,omitempty"`
}

// DuplicateKeyGroup lists sheet rows sharing a normalized composite key.
type DuplicateKeyGroup struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
	Rows  []int  `json:"rows"`
}

// ImportResult summarizes a completed, canceled or failed confirm run.
type ImportResult struct {
	SessionID     string              `json:"session_id"`
	RecordType    string              `json:"record_type"`
	Status        string              `json:"status"`
	Total         int                 `json:"total"`
	Processed     int                 `json:"processed"`
	Inserted      int                 `json:"inserted"`
	Updated       int                 `json:"updated"`
	Unchanged     int                 `json:"unchanged"`
	Failed        int                 `json:"failed"`
	Before        int64               `json:"before_count"`
	After         int64               `json:"after_count"`
	Delta         int64               `json:"delta"`
	Canceled      bool                `json:"canceled"`
	Error         string              `json:"error,omitempty"`
	Failures      []RowResult         `json:"failures"`
	DuplicateKeys []DuplicateKeyGroup `json:"duplicate_keys,omitempty"`
	LogURL        string              `json:"log_url,omitempty"`
	StartedAt     time.Time           `json:"started_at"`
	FinishedAt    time.Time           `json:"finished_at"`
}
