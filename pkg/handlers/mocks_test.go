package handlers

import (
	"context"
	"io"

	"github.com/registrar-office/registrar-engine/pkg/models"
	"github.com/registrar-office/registrar-engine/pkg/services"
)

// mockImportService records its inputs and returns canned results.
type mockImportService struct {
	preview    *models.ImportPreview
	previewErr error
	result     *models.ImportResult
	runErr     error
	progress   models.ImportProgress
	progErr    error
	canceled   bool

	gotRecordType string
	gotFileName   string
	gotFileBody   string
	gotSheet      string
	gotSessionID  string
	gotOpts       models.ImportOptions
	gotCtxErr     error
	cancelCalls   int
}

var _ services.ImportService = (*mockImportService)(nil)

func (m *mockImportService) Preview(ctx context.Context, recordType, originalName string, r io.Reader, sheet string) (*models.ImportPreview, error) {
	m.gotRecordType = recordType
	m.gotFileName = originalName
	m.gotSheet = sheet
	body, _ := io.ReadAll(r)
	m.gotFileBody = string(body)
	if m.previewErr != nil {
		return nil, m.previewErr
	}
	return m.preview, nil
}

func (m *mockImportService) Run(ctx context.Context, recordType, sessionID string, opts models.ImportOptions) (*models.ImportResult, error) {
	m.gotRecordType = recordType
	m.gotSessionID = sessionID
	m.gotOpts = opts
	m.gotCtxErr = ctx.Err()
	if m.runErr != nil {
		return nil, m.runErr
	}
	return m.result, nil
}

func (m *mockImportService) Progress(sessionID string) (models.ImportProgress, error) {
	m.gotSessionID = sessionID
	return m.progress, m.progErr
}

func (m *mockImportService) Cancel(sessionID string) bool {
	m.cancelCalls++
	return m.canceled
}

type mockAuditorService struct {
	duplicates *models.DuplicateReport
	mismatches *models.MismatchReport
	prune      *models.PruneResult
	err        error

	gotNormalized bool
	gotPrune      models.PruneOptions
}

var _ services.AuditorService = (*mockAuditorService)(nil)

func (m *mockAuditorService) FindDuplicates(ctx context.Context, recordType string, normalized bool) (*models.DuplicateReport, error) {
	m.gotNormalized = normalized
	return m.duplicates, m.err
}

func (m *mockAuditorService) FindReferenceMismatches(ctx context.Context, recordType string) (*models.MismatchReport, error) {
	return m.mismatches, m.err
}

func (m *mockAuditorService) PruneDuplicates(ctx context.Context, recordType string, opts models.PruneOptions) (*models.PruneResult, error) {
	m.gotPrune = opts
	return m.prune, m.err
}

type mockExportService struct {
	result *models.ExportResult
	err    error
}

var _ services.ExportService = (*mockExportService)(nil)

func (m *mockExportService) Export(ctx context.Context, recordType string) (*models.ExportResult, error) {
	return m.result, m.err
}

type mockActivityService struct {
	entries       []*models.ActivityLog
	err           error
	gotRecordType string
	gotLimit      int
}

var _ services.ActivityService = (*mockActivityService)(nil)

func (m *mockActivityService) Record(ctx context.Context, entry *models.ActivityLog) {}

func (m *mockActivityService) Recent(ctx context.Context, recordType string, limit int) ([]*models.ActivityLog, error) {
	m.gotRecordType = recordType
	m.gotLimit = limit
	return m.entries, m.err
}
