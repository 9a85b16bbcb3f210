package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/registrar-office/registrar-engine/pkg/apperrors"
	"github.com/registrar-office/registrar-engine/pkg/audit"
	"github.com/registrar-office/registrar-engine/pkg/logging"
	"github.com/registrar-office/registrar-engine/pkg/models"
	"github.com/registrar-office/registrar-engine/pkg/registry"
	"github.com/registrar-office/registrar-engine/pkg/repositories"
	"github.com/registrar-office/registrar-engine/pkg/spreadsheet"
)

const (
	previewSampleRows        = 10
	defaultFailureSampleSize = 50
)

// ImportService runs the preview and confirm steps of a spreadsheet import.
type ImportService interface {
	// Preview stores the upload, maps its headers and returns coerced sample
	// rows. Nothing is written to the record tables.
	Preview(ctx context.Context, recordType, originalName string, r io.Reader, sheet string) (*models.ImportPreview, error)
	// Run reconciles every data row of a previewed upload against the store.
	// Errors are returned only for failures before the first row; row-level
	// problems are reported in the result.
	Run(ctx context.Context, recordType, sessionID string, opts models.ImportOptions) (*models.ImportResult, error)
	Progress(sessionID string) (models.ImportProgress, error)
	// Cancel asks a running import to stop before its next row.
	Cancel(sessionID string) bool
}

// ImportServiceDeps groups the collaborators of the import service.
type ImportServiceDeps struct {
	Registry          *registry.Registry
	Records           repositories.RecordRepository
	Prefetcher        Prefetcher
	Tracker           ProgressTracker
	Uploads           UploadStore
	Logs              OutcomeLogWriter
	Activity          ActivityService
	Security          *audit.SecurityAuditor
	FailureSampleSize int
}

type importService struct {
	registry   *registry.Registry
	repo       repositories.RecordRepository
	prefetcher Prefetcher
	tracker    ProgressTracker
	uploads    UploadStore
	logs       OutcomeLogWriter
	activity   ActivityService
	security   *audit.SecurityAuditor
	sampleSize int
	logger     *zap.Logger
}

// NewImportService creates an ImportService.
func NewImportService(deps ImportServiceDeps, logger *zap.Logger) ImportService {
	sampleSize := deps.FailureSampleSize
	if sampleSize <= 0 {
		sampleSize = defaultFailureSampleSize
	}
	security := deps.Security
	if security == nil {
		security = audit.NewSecurityAuditor(logger)
	}
	return &importService{
		registry:   deps.Registry,
		repo:       deps.Records,
		prefetcher: deps.Prefetcher,
		tracker:    deps.Tracker,
		uploads:    deps.Uploads,
		logs:       deps.Logs,
		activity:   deps.Activity,
		security:   security,
		sampleSize: sampleSize,
		logger:     logger.Named("import-service"),
	}
}

var _ ImportService = (*importService)(nil)

// rowRejection is a business-rule failure whose text is shown as is.
type rowRejection string

func (r rowRejection) Error() string { return string(r) }

// importRun is the state of one confirm run.
type importRun struct {
	schema  *models.RecordSchema
	session *models.UploadSession
	sheet   *spreadsheet.Sheet
	mapping models.HeaderMapping
	refs    *ReferenceSet
	opts    models.ImportOptions
	result  *models.ImportResult

	inserted []models.RowResult
	updated  []models.RowResult
	failed   []models.RowResult

	compositeRows map[string][]int
	compositeKeys []string
}

func (s *importService) Preview(ctx context.Context, recordType, originalName string, r io.Reader, sheet string) (*models.ImportPreview, error) {
	schema, err := s.registry.Get(recordType)
	if err != nil {
		return nil, err
	}

	session, err := s.uploads.Save(schema.Key, originalName, r)
	if err != nil {
		return nil, err
	}

	sh, sheets, err := readSheet(session.FilePath, sheet)
	if err != nil {
		// No session refers to the file yet.
		if rmErr := os.Remove(session.FilePath); rmErr != nil {
			s.logger.Warn("Failed to remove unreadable upload",
				zap.String("session_id", session.ID),
				zap.Error(rmErr))
		}
		return nil, err
	}
	session.Sheet = sh.Name

	mapping := MapHeaders(sh.Headers, schema)
	total := sh.DataRows()
	s.tracker.Create(session, total)

	samples := make([]models.Record, 0, previewSampleRows)
	for _, row := range sh.Rows {
		if len(samples) == previewSampleRows {
			break
		}
		if row.IsEmpty() {
			continue
		}
		candidate, _ := buildCandidate(schema, mapping, row)
		samples = append(samples, candidate)
	}

	s.logger.Info("Previewed upload",
		zap.String("session_id", session.ID),
		zap.String("record_type", schema.Key),
		zap.String("sheet", sh.Name),
		zap.Int("total", total),
		zap.Int("matched_columns", len(mapping.Columns)),
		zap.Strings("missing_required", mapping.MissingRequiredFields))

	return &models.ImportPreview{
		SessionID:             session.ID,
		RecordType:            schema.Key,
		Sheet:                 sh.Name,
		Sheets:                sheets,
		HeaderToField:         mapping.HeaderToField,
		Columns:               mapping.Columns,
		UnmatchedHeaders:      mapping.UnmatchedHeaders,
		MissingRequiredFields: mapping.MissingRequiredFields,
		Total:                 total,
		SampleRows:            samples,
	}, nil
}

func (s *importService) Progress(sessionID string) (models.ImportProgress, error) {
	return s.tracker.Read(sessionID)
}

func (s *importService) Cancel(sessionID string) bool {
	ok := s.tracker.RequestCancel(sessionID)
	if ok {
		s.logger.Info("Import cancellation requested", zap.String("session_id", sessionID))
	}
	return ok
}

func (s *importService) Run(ctx context.Context, recordType, sessionID string, opts models.ImportOptions) (*models.ImportResult, error) {
	schema, err := s.registry.Get(recordType)
	if err != nil {
		s.tracker.Finish(sessionID, err, "")
		return nil, err
	}

	session, err := s.session(schema, sessionID)
	if err != nil {
		return nil, err
	}

	run, err := s.prepare(ctx, schema, session, opts)
	if err != nil {
		s.logger.Warn("Import aborted before processing rows",
			zap.String("session_id", session.ID),
			zap.String("record_type", schema.Key),
			zap.Error(err))
		s.tracker.Finish(session.ID, err, "")
		return nil, err
	}

	return s.execute(ctx, run), nil
}

// session returns the tracked upload session, falling back to the upload
// directory when the process restarted after preview.
func (s *importService) session(schema *models.RecordSchema, sessionID string) (*models.UploadSession, error) {
	session, err := s.tracker.Session(sessionID)
	if err != nil {
		session, err = s.uploads.Resolve(schema.Key, sessionID)
		if err != nil {
			return nil, err
		}
		s.tracker.Create(session, 0)
	}
	if session.RecordType != schema.Key {
		return nil, fmt.Errorf("%w: session %s was uploaded for %s", apperrors.ErrInvalidInput, sessionID, session.RecordType)
	}
	return session, nil
}

func (s *importService) prepare(ctx context.Context, schema *models.RecordSchema, session *models.UploadSession, opts models.ImportOptions) (*importRun, error) {
	sheetName := opts.Sheet
	if sheetName == "" {
		sheetName = session.Sheet
	}
	sh, _, err := readSheet(session.FilePath, sheetName)
	if err != nil {
		return nil, err
	}

	mapping := MapHeaders(sh.Headers, schema)
	if len(mapping.Columns) == 0 {
		return nil, apperrors.ErrNoHeadersMatched
	}
	if len(mapping.MissingRequiredFields) > 0 {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrMissingRequiredColumns, strings.Join(mapping.MissingRequiredFields, ", "))
	}

	before, err := s.repo.Count(ctx, schema)
	if err != nil {
		return nil, fmt.Errorf("failed to count existing %s records: %w", schema.Key, err)
	}

	refs := s.prefetcher.Prefetch(ctx, schema, sh, mapping)

	total := sh.DataRows()
	if err := s.tracker.Start(session.ID, total); err != nil {
		return nil, err
	}

	return &importRun{
		schema:  schema,
		session: session,
		sheet:   sh,
		mapping: mapping,
		refs:    refs,
		opts:    opts,
		result: &models.ImportResult{
			SessionID:  session.ID,
			RecordType: schema.Key,
			Total:      total,
			Before:     before,
			Failures:   []models.RowResult{},
			StartedAt:  time.Now().UTC(),
		},
		compositeRows: make(map[string][]int),
	}, nil
}

func (s *importService) execute(ctx context.Context, run *importRun) *models.ImportResult {
	result := run.result
	sessionID := run.session.ID

	var loopErr error
	for _, row := range run.sheet.Rows {
		if row.IsEmpty() {
			continue
		}
		if s.tracker.IsCanceled(sessionID) {
			result.Canceled = true
			break
		}
		if err := ctx.Err(); err != nil {
			loopErr = err
			break
		}

		rr := s.reconcileRow(ctx, run, row)
		s.tracker.Advance(sessionID, rr.Outcome)
		result.Processed++

		switch rr.Outcome {
		case models.RowInserted:
			result.Inserted++
			run.inserted = append(run.inserted, rr)
		case models.RowUpdated:
			result.Updated++
			run.updated = append(run.updated, rr)
		case models.RowUnchanged:
			result.Unchanged++
		case models.RowFailed:
			result.Failed++
			run.failed = append(run.failed, rr)
			if len(result.Failures) < s.sampleSize {
				result.Failures = append(result.Failures, rr)
			}
		}
	}

	bg := context.WithoutCancel(ctx)
	after, err := s.repo.Count(bg, run.schema)
	if err != nil {
		s.logger.Warn("Failed to count records after import",
			zap.String("record_type", run.schema.Key),
			zap.Error(err))
		after = result.Before + int64(result.Inserted)
	}
	result.After = after
	result.Delta = after - result.Before
	result.DuplicateKeys = run.duplicateKeys()
	result.FinishedAt = time.Now().UTC()

	switch {
	case loopErr != nil:
		result.Status = models.ImportStatusFailed
		result.Error = logging.SanitizeError(loopErr)
	case result.Canceled:
		result.Status = models.ImportStatusCanceled
	default:
		result.Status = models.ImportStatusCompleted
	}

	logURL, err := s.logs.Write(run.schema.DisplayName, sessionID, outcomeSheets(run))
	if err != nil {
		s.logger.Error("Failed to write import outcome log",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}
	result.LogURL = logURL
	s.tracker.Finish(sessionID, loopErr, logURL)

	s.activity.Record(bg, &models.ActivityLog{
		Action:     models.ActivityImport,
		RecordType: run.schema.Key,
		SessionID:  sessionID,
		Status:     result.Status,
		LogURL:     logURL,
		Summary: map[string]any{
			"total":     result.Total,
			"processed": result.Processed,
			"inserted":  result.Inserted,
			"updated":   result.Updated,
			"unchanged": result.Unchanged,
			"failed":    result.Failed,
			"delta":     result.Delta,
		},
	})

	s.logger.Info("Import finished",
		zap.String("session_id", sessionID),
		zap.String("record_type", run.schema.Key),
		zap.String("status", result.Status),
		zap.Int("processed", result.Processed),
		zap.Int("inserted", result.Inserted),
		zap.Int("updated", result.Updated),
		zap.Int("unchanged", result.Unchanged),
		zap.Int("failed", result.Failed),
		zap.Duration("elapsed", result.FinishedAt.Sub(result.StartedAt)))

	return result
}

// reconcileRow decides insert or update for one row and applies it. A panic
// is confined to the row that caused it.
func (s *importService) reconcileRow(ctx context.Context, run *importRun, row spreadsheet.Row) (rr models.RowResult) {
	rr = models.RowResult{Row: row.Number}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Recovered panic while importing row",
				zap.String("session_id", run.session.ID),
				zap.Int("row", row.Number),
				zap.Any("panic", r))
			rr.Outcome = models.RowFailed
			rr.Reason = fmt.Sprintf("internal error: %v", r)
		}
	}()

	candidate, values := buildCandidate(run.schema, run.mapping, row)
	rr.Values = values
	s.canonicalizeReference(run, candidate)
	s.scanCandidate(run, row.Number, candidate)
	run.trackComposite(candidate, row.Number)

	existing, err := s.findExisting(ctx, run, candidate)
	if err != nil {
		rr.Outcome = models.RowFailed
		rr.Reason = failureReason(err)
		return rr
	}
	if existing == nil {
		return s.insert(ctx, run, candidate, rr)
	}
	return s.update(ctx, run, existing, candidate, rr)
}

// findExisting applies the first natural-key rule the candidate can satisfy:
// explicit id, then serial, then the composite key with an optional loose
// fallback on its first field.
func (s *importService) findExisting(ctx context.Context, run *importRun, candidate models.Record) (models.Record, error) {
	schema := run.schema
	nk := schema.NaturalKey

	if v, ok := candidate[nk.IDField]; ok {
		id, _ := toInteger(v).(int64)
		rec, err := s.repo.FindByID(ctx, schema, id)
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, rowRejection(fmt.Sprintf("no existing record to update for id=%s", valueText(v)))
		}
		return rec, err
	}

	if nk.SerialField != "" {
		if key := keyString(candidate[nk.SerialField]); key != "" {
			return s.findFirst(ctx, schema, []repositories.KeyCondition{{Field: nk.SerialField, Value: key}})
		}
	}

	if len(nk.Composite) == 0 {
		return nil, nil
	}
	conds := make([]repositories.KeyCondition, 0, len(nk.Composite))
	for _, field := range nk.Composite {
		key := keyString(candidate[field])
		if key == "" {
			return nil, nil
		}
		conds = append(conds, repositories.KeyCondition{Field: field, Value: key})
	}
	rec, err := s.findFirst(ctx, schema, conds)
	if err != nil || rec != nil || !run.opts.LooseMatch {
		return rec, err
	}

	matches, err := s.repo.FindByKey(ctx, schema, conds[:1], 2)
	if err != nil {
		return nil, err
	}
	if len(matches) == 1 {
		return matches[0], nil
	}
	return nil, nil
}

func (s *importService) findFirst(ctx context.Context, schema *models.RecordSchema, conds []repositories.KeyCondition) (models.Record, error) {
	matches, err := s.repo.FindByKey(ctx, schema, conds, 1)
	if err != nil || len(matches) == 0 {
		return nil, err
	}
	return matches[0], nil
}

func (s *importService) insert(ctx context.Context, run *importRun, candidate models.Record, rr models.RowResult) models.RowResult {
	schema := run.schema

	var missing []string
	for _, field := range schema.RequiredFields() {
		if isBlank(candidate[field]) {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		rr.Outcome = models.RowFailed
		rr.Reason = "Missing required field(s): " + strings.Join(missing, ", ")
		return rr
	}

	if ref := schema.Reference; ref != nil {
		if v := candidate[ref.Field]; !isBlank(v) && !run.refs.Exists(keyString(v)) {
			rr.Outcome = models.RowFailed
			rr.Reason = fmt.Sprintf("%s not found: %s", ref.Label, valueText(v))
			return rr
		}
	}

	id, err := s.repo.Create(ctx, schema, writePayload(schema, candidate))
	if err != nil {
		rr.Outcome = models.RowFailed
		rr.Reason = failureReason(err)
		return rr
	}
	rr.Outcome = models.RowInserted
	rr.ID = id
	return rr
}

// update writes only the non-null candidate values that differ from the
// stored record. Stored values are never cleared.
func (s *importService) update(ctx context.Context, run *importRun, existing, candidate models.Record, rr models.RowResult) models.RowResult {
	schema := run.schema
	rr.ID = existing.ID(schema.PrimaryKey())

	payload := models.Record{}
	for _, name := range schema.WritableFields() {
		v, ok := candidate[name]
		if !ok || v == nil {
			continue
		}
		fd, _ := schema.Field(name)
		if sameValue(existing[name], v, fd.Type) {
			continue
		}
		payload[name] = v
		rr.Changed = append(rr.Changed, name)
	}

	if len(payload) == 0 {
		rr.Outcome = models.RowUnchanged
		return rr
	}

	if err := s.repo.Update(ctx, schema, rr.ID, payload); err != nil {
		rr.Outcome = models.RowFailed
		rr.Reason = failureReason(err)
		rr.Changed = nil
		return rr
	}
	rr.Outcome = models.RowUpdated
	return rr
}

// canonicalizeReference rewrites the reference value to its stored spelling.
func (s *importService) canonicalizeReference(run *importRun, candidate models.Record) {
	ref := run.schema.Reference
	if ref == nil {
		return
	}
	v, ok := candidate[ref.Field]
	if !ok {
		return
	}
	if stored, found := run.refs.CanonicalValue(keyString(v)); found {
		candidate[ref.Field] = stored
	}
}

func (s *importService) scanCandidate(run *importRun, rowNumber int, candidate models.Record) {
	for field, v := range candidate {
		if hit := audit.CheckValue(field, v); hit != nil {
			s.security.LogSuspiciousCell(run.schema.Key, run.session.ID, audit.SuspiciousCellDetails{
				Row:         rowNumber,
				Field:       hit.Field,
				Value:       hit.Value,
				Fingerprint: hit.Fingerprint,
			})
		}
	}
}

func (run *importRun) trackComposite(candidate models.Record, rowNumber int) {
	composite := run.schema.NaturalKey.Composite
	if len(composite) == 0 {
		return
	}
	parts := make([]string, len(composite))
	for i, field := range composite {
		parts[i] = keyString(candidate[field])
		if parts[i] == "" {
			return
		}
	}
	key := strings.Join(parts, " | ")
	if _, ok := run.compositeRows[key]; !ok {
		run.compositeKeys = append(run.compositeKeys, key)
	}
	run.compositeRows[key] = append(run.compositeRows[key], rowNumber)
}

func (run *importRun) duplicateKeys() []models.DuplicateKeyGroup {
	var groups []models.DuplicateKeyGroup
	for _, key := range run.compositeKeys {
		rows := run.compositeRows[key]
		if len(rows) > 1 {
			groups = append(groups, models.DuplicateKeyGroup{Key: key, Count: len(rows), Rows: rows})
		}
	}
	return groups
}

// buildCandidate maps and coerces one row. It also returns the row's original
// cell text keyed by header, for the failure log.
func buildCandidate(schema *models.RecordSchema, mapping models.HeaderMapping, row spreadsheet.Row) (models.Record, map[string]string) {
	candidate := make(models.Record, len(mapping.Columns))
	values := make(map[string]string, len(mapping.Columns))
	for _, col := range mapping.Columns {
		cell := row.At(col.Index)
		values[col.Header] = spreadsheet.Text(cell)

		fd, ok := schema.Field(col.Field)
		if !ok {
			continue
		}
		if v := Coerce(cell, fd.Type); v != nil {
			candidate[col.Field] = v
		}
	}
	return candidate, values
}

// writePayload drops the primary key, audit timestamps and nil values.
func writePayload(schema *models.RecordSchema, candidate models.Record) models.Record {
	payload := make(models.Record, len(candidate))
	for _, name := range schema.WritableFields() {
		if v, ok := candidate[name]; ok && v != nil {
			payload[name] = v
		}
	}
	return payload
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

// failureReason turns a row error into the text recorded for the row.
func failureReason(err error) string {
	var rejection rowRejection
	if errors.As(err, &rejection) {
		return string(rejection)
	}
	var ce *apperrors.ConstraintError
	if errors.As(err, &ce) {
		return logging.SanitizeError(ce)
	}
	var ve *apperrors.ValidationError
	if errors.As(err, &ve) {
		return logging.SanitizeError(ve)
	}
	return "store error: " + logging.SanitizeError(err)
}

func readSheet(path, name string) (*spreadsheet.Sheet, []string, error) {
	wb, err := spreadsheet.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer wb.Close()

	sh, err := wb.ReadSheet(name)
	if err != nil {
		return nil, nil, err
	}
	return sh, wb.SheetNames(), nil
}

func outcomeSheets(run *importRun) []spreadsheet.SheetData {
	r := run.result
	summary := spreadsheet.SheetData{
		Name:    "Summary",
		Headers: []string{"Metric", "Value"},
		Rows: [][]any{
			{"Record type", run.schema.DisplayName},
			{"Session", r.SessionID},
			{"Sheet", run.sheet.Name},
			{"Status", r.Status},
			{"Total rows", r.Total},
			{"Processed", r.Processed},
			{"Inserted", r.Inserted},
			{"Updated", r.Updated},
			{"Unchanged", r.Unchanged},
			{"Failed", r.Failed},
			{"Records before", r.Before},
			{"Records after", r.After},
			{"Delta", r.Delta},
			{"Canceled", r.Canceled},
			{"Error", r.Error},
			{"Started", r.StartedAt},
			{"Finished", r.FinishedAt},
		},
	}

	inserted := spreadsheet.SheetData{Name: "Inserted", Headers: []string{"Row", "ID"}}
	for _, rr := range run.inserted {
		inserted.Rows = append(inserted.Rows, []any{rr.Row, rr.ID})
	}

	updated := spreadsheet.SheetData{Name: "Updated", Headers: []string{"Row", "ID", "Changed fields"}}
	for _, rr := range run.updated {
		updated.Rows = append(updated.Rows, []any{rr.Row, rr.ID, strings.Join(rr.Changed, ", ")})
	}

	headers := make([]string, 0, len(run.mapping.Columns))
	for _, col := range run.mapping.Columns {
		headers = append(headers, col.Header)
	}
	failed := spreadsheet.SheetData{Name: "Failed", Headers: append([]string{"Row", "Reason"}, headers...)}
	for _, rr := range run.failed {
		line := []any{rr.Row, rr.Reason}
		for _, h := range headers {
			line = append(line, rr.Values[h])
		}
		failed.Rows = append(failed.Rows, line)
	}

	sheets := []spreadsheet.SheetData{summary, inserted, updated, failed}
	if len(r.DuplicateKeys) > 0 {
		dup := spreadsheet.SheetData{Name: "DuplicateKeys", Headers: []string{"Key", "Count", "Rows"}}
		for _, g := range r.DuplicateKeys {
			rows := make([]string, len(g.Rows))
			for i, n := range g.Rows {
				rows[i] = fmt.Sprint(n)
			}
			dup.Rows = append(dup.Rows, []any{g.Key, g.Count, strings.Join(rows, ", ")})
		}
		sheets = append(sheets, dup)
	}
	return sheets
}
