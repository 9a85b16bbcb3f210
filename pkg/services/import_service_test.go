package services

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/registrar-office/registrar-engine/pkg/apperrors"
	"github.com/registrar-office/registrar-engine/pkg/audit"
	"github.com/registrar-office/registrar-engine/pkg/models"
	"github.com/registrar-office/registrar-engine/pkg/registry"
)

type importHarness struct {
	svc       ImportService
	uploadDir string
	repo      *fakeRecordRepo
	tracker   ProgressTracker
	logs      *fakeLogWriter
	activity  *fakeActivityRepo
	security  *observer.ObservedLogs
}

func newImportHarness(t *testing.T) *importHarness {
	t.Helper()
	reg, err := registry.Default()
	require.NoError(t, err)

	core, recorded := observer.New(zapcore.WarnLevel)
	h := &importHarness{
		uploadDir: t.TempDir(),
		repo:      newFakeRecordRepo(),
		tracker:   NewProgressTracker(),
		logs:      &fakeLogWriter{},
		activity:  &fakeActivityRepo{},
		security:  recorded,
	}
	h.svc = NewImportService(ImportServiceDeps{
		Registry:          reg,
		Records:           h.repo,
		Prefetcher:        NewPrefetcher(h.repo, 2, zap.NewNop()),
		Tracker:           h.tracker,
		Uploads:           NewUploadStore(h.uploadDir, zap.NewNop()),
		Logs:              h.logs,
		Activity:          NewActivityService(h.activity, zap.NewNop()),
		Security:          audit.NewSecurityAuditor(zap.New(core)),
		FailureSampleSize: 10,
	}, zap.NewNop())
	return h
}

func (h *importHarness) preview(t *testing.T, recordType, csv string) *models.ImportPreview {
	t.Helper()
	p, err := h.svc.Preview(context.Background(), recordType, "upload.csv", strings.NewReader(csv), "")
	require.NoError(t, err)
	return p
}

func (h *importHarness) importCSV(t *testing.T, recordType, csv string, opts models.ImportOptions) *models.ImportResult {
	t.Helper()
	p := h.preview(t, recordType, csv)
	res, err := h.svc.Run(context.Background(), recordType, p.SessionID, opts)
	require.NoError(t, err)
	return res
}

func (h *importHarness) seedEnrollment(no, name string) int64 {
	return h.repo.seed("enrollments", models.Record{"enrollment_no": no, "student_name": name, "is_active": true})
}

func TestImport_InsertWithAliasHeaderAndKnownReference(t *testing.T) {
	h := newImportHarness(t)
	h.seedEnrollment("EN001", "Asha Patel")

	res := h.importCSV(t, "degree", "Enrollment No,Degree,Convocation No\nen001 ,B.Sc,5\n", models.ImportOptions{})

	assert.Equal(t, models.ImportStatusCompleted, res.Status)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 0, res.Failed)
	assert.Equal(t, int64(1), res.Delta)

	rows := h.repo.rows("degrees")
	require.Len(t, rows, 1)
	assert.Equal(t, "B.Sc", rows[0]["degree_name"])
	assert.Equal(t, "EN001", rows[0]["enrollment_no"], "reference rewritten to its stored spelling")
	assert.Equal(t, int64(5), rows[0]["convocation_no"])
}

func TestImport_UnknownReferenceRejected(t *testing.T) {
	h := newImportHarness(t)
	h.seedEnrollment("EN001", "Asha Patel")

	res := h.importCSV(t, "degree", "Enrollment No,Degree,Convocation No\nEN404,B.Sc,5\n", models.ImportOptions{})

	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Failures, 1)
	assert.Contains(t, res.Failures[0].Reason, "Enrollment not found")
	assert.Equal(t, "EN404", res.Failures[0].Values["Enrollment No"])
	assert.Empty(t, h.repo.rows("degrees"))

	failed, ok := h.logs.last().sheet("Failed")
	require.True(t, ok)
	require.Len(t, failed.Rows, 1)
	assert.Equal(t, []string{"Row", "Reason", "Enrollment No", "Degree", "Convocation No"}, failed.Headers)
}

func TestImport_DuplicateCompositeKeysReported(t *testing.T) {
	h := newImportHarness(t)
	h.seedEnrollment("EN001", "Asha Patel")

	res := h.importCSV(t, "degree",
		"Enrollment No,Degree,Convocation No\nEN001,B.Sc,5\n en001 ,B.Sc,5\nEN001,B.Sc,6\n",
		models.ImportOptions{})

	require.Len(t, res.DuplicateKeys, 1)
	assert.Equal(t, "en001 | 5", res.DuplicateKeys[0].Key)
	assert.Equal(t, 2, res.DuplicateKeys[0].Count)
	assert.Equal(t, []int{2, 3}, res.DuplicateKeys[0].Rows)

	dup, ok := h.logs.last().sheet("DuplicateKeys")
	require.True(t, ok)
	require.Len(t, dup.Rows, 1)
	assert.Equal(t, 2, dup.Rows[0][1])

	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 1, res.Unchanged, "second row matched the first by composite key")
}

func TestImport_UpdateNeverClearsStoredValues(t *testing.T) {
	h := newImportHarness(t)
	h.seedEnrollment("EN001", "Asha Patel")
	h.repo.seed("degrees", models.Record{
		"enrollment_no":  "EN001",
		"dg_sr_no":       "DG1",
		"degree_name":    "B.Sc",
		"specialisation": "Physics",
	})

	res := h.importCSV(t, "degree", "Degree Serial No,Specialisation,Degree,Enrollment No\nDG1,,M.Sc,\n", models.ImportOptions{})

	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 0, res.Inserted)
	rows := h.repo.rows("degrees")
	require.Len(t, rows, 1)
	assert.Equal(t, "Physics", rows[0]["specialisation"])
	assert.Equal(t, "M.Sc", rows[0]["degree_name"])
	assert.Equal(t, "EN001", rows[0]["enrollment_no"])
}

func TestImport_IsConvergent(t *testing.T) {
	h := newImportHarness(t)
	sheet := "Enrollment No,Name,Batch\nEN001,Asha,2021\nEN002,Ravi,2021\nEN003,Mina,2022\n"

	first := h.importCSV(t, "enrollment", sheet, models.ImportOptions{})
	assert.Equal(t, 3, first.Inserted)

	second := h.importCSV(t, "enrollment", sheet, models.ImportOptions{})
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 0, second.Updated)
	assert.Equal(t, 3, second.Unchanged)
	assert.Equal(t, int64(0), second.Delta)

	changed := strings.Replace(sheet, "Mina,2022", "Mina,2023", 1)
	third := h.importCSV(t, "enrollment", changed, models.ImportOptions{})
	assert.Equal(t, 1, third.Updated)
	assert.Equal(t, 2, third.Unchanged)
}

func TestImport_MissingRequiredFieldOnInsert(t *testing.T) {
	h := newImportHarness(t)

	res := h.importCSV(t, "enrollment", "Enrollment No,Name,Batch\nEN009,,2020\nEN010,Ravi,2020\n", models.ImportOptions{})

	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, "Missing required field(s): student_name", res.Failures[0].Reason)
	assert.Equal(t, 2, res.Failures[0].Row)
	assert.Len(t, h.repo.rows("enrollments"), 1)
}

func TestImport_RequiredOnInsertBusinessRule(t *testing.T) {
	h := newImportHarness(t)
	h.seedEnrollment("EN001", "Asha")

	res := h.importCSV(t, "migration", "Enrollment No,Migration No,Exam Year\nEN001,MG1,2023\n", models.ImportOptions{})

	assert.Equal(t, 1, res.Failed)
	assert.Contains(t, res.Failures[0].Reason, "student_name")
}

func TestImport_ExplicitIDMustExist(t *testing.T) {
	h := newImportHarness(t)

	res := h.importCSV(t, "enrollment", "id,Enrollment No,Name\n99,EN001,Asha\n", models.ImportOptions{})

	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, "no existing record to update for id=99", res.Failures[0].Reason)
	assert.Empty(t, h.repo.rows("enrollments"))
}

func TestImport_ExplicitIDUpdates(t *testing.T) {
	h := newImportHarness(t)
	id := h.seedEnrollment("EN001", "Asha")

	res := h.importCSV(t, "enrollment", "id,Enrollment No,Name\n1,EN001,Asha Patel\n", models.ImportOptions{})

	assert.Equal(t, 1, res.Updated)
	rec, err := h.repo.FindByID(context.Background(), schemaFor(t, "enrollment"), id)
	require.NoError(t, err)
	assert.Equal(t, "Asha Patel", rec["student_name"])
}

func TestImport_LooseMatch(t *testing.T) {
	sheet := "Enrollment No,Convocation No,Degree\nEN001,5,M.A\n"

	t.Run("disabled inserts", func(t *testing.T) {
		h := newImportHarness(t)
		h.seedEnrollment("EN001", "Asha")
		h.repo.seed("degrees", models.Record{"enrollment_no": "EN001", "convocation_no": int64(3), "degree_name": "B.A"})

		res := h.importCSV(t, "degree", sheet, models.ImportOptions{})
		assert.Equal(t, 1, res.Inserted)
	})

	t.Run("enabled updates the single match", func(t *testing.T) {
		h := newImportHarness(t)
		h.seedEnrollment("EN001", "Asha")
		h.repo.seed("degrees", models.Record{"enrollment_no": "EN001", "convocation_no": int64(3), "degree_name": "B.A"})

		res := h.importCSV(t, "degree", sheet, models.ImportOptions{LooseMatch: true})
		assert.Equal(t, 1, res.Updated)
		assert.Len(t, h.repo.rows("degrees"), 1)
	})

	t.Run("enabled with two matches inserts", func(t *testing.T) {
		h := newImportHarness(t)
		h.seedEnrollment("EN001", "Asha")
		h.repo.seed("degrees", models.Record{"enrollment_no": "EN001", "convocation_no": int64(3)})
		h.repo.seed("degrees", models.Record{"enrollment_no": "EN001", "convocation_no": int64(4)})

		res := h.importCSV(t, "degree", sheet, models.ImportOptions{LooseMatch: true})
		assert.Equal(t, 1, res.Inserted)
	})
}

func TestImport_CancellationStopsBeforeNextRow(t *testing.T) {
	h := newImportHarness(t)
	p := h.preview(t, "enrollment", "Enrollment No,Name\nA1,a\nA2,b\nA3,c\nA4,d\nA5,e\n")

	h.repo.afterWrite = func(writes int) {
		if writes == 2 {
			h.svc.Cancel(p.SessionID)
		}
	}

	res, err := h.svc.Run(context.Background(), "enrollment", p.SessionID, models.ImportOptions{})
	require.NoError(t, err)

	assert.True(t, res.Canceled)
	assert.Equal(t, models.ImportStatusCanceled, res.Status)
	assert.Equal(t, 2, res.Processed)
	assert.Len(t, h.repo.rows("enrollments"), 2)

	progress, err := h.svc.Progress(p.SessionID)
	require.NoError(t, err)
	assert.True(t, progress.Done)
	assert.True(t, progress.Canceled)
	assert.Equal(t, 2, progress.Processed)
	assert.Equal(t, 5, progress.Total)
	assert.Equal(t, 40, progress.Percent)
	assert.NotEmpty(t, progress.LogURL)
}

func TestImport_CancelBetweenPreviewAndConfirm(t *testing.T) {
	h := newImportHarness(t)
	p := h.preview(t, "enrollment", "Enrollment No,Name\nA1,a\nA2,b\nA3,c\n")

	require.True(t, h.svc.Cancel(p.SessionID))

	res, err := h.svc.Run(context.Background(), "enrollment", p.SessionID, models.ImportOptions{})
	require.NoError(t, err)

	assert.True(t, res.Canceled)
	assert.Equal(t, models.ImportStatusCanceled, res.Status)
	assert.Equal(t, 0, res.Processed)
	assert.Empty(t, h.repo.rows("enrollments"))

	progress, err := h.svc.Progress(p.SessionID)
	require.NoError(t, err)
	assert.True(t, progress.Done)
	assert.True(t, progress.Canceled)
	assert.Equal(t, 0, progress.Processed)

	assert.False(t, h.svc.Cancel(p.SessionID), "finished sessions cannot be canceled")
}

func TestImport_FatalErrorsAbortBeforeRows(t *testing.T) {
	tests := []struct {
		name    string
		csv     string
		wantErr error
	}{
		{"no headers matched", "Colour,Shape\nred,round\n", apperrors.ErrNoHeadersMatched},
		{"missing required column", "Name,Batch\nAsha,2021\n", apperrors.ErrMissingRequiredColumns},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newImportHarness(t)
			p := h.preview(t, "enrollment", tt.csv)

			_, err := h.svc.Run(context.Background(), "enrollment", p.SessionID, models.ImportOptions{})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr))

			progress, err := h.svc.Progress(p.SessionID)
			require.NoError(t, err)
			assert.True(t, progress.Done)
			assert.NotEmpty(t, progress.Error)
			assert.Empty(t, h.logs.written, "no outcome log for aborted runs")
		})
	}
}

func TestImport_UnknownTypeAndSession(t *testing.T) {
	h := newImportHarness(t)

	_, err := h.svc.Run(context.Background(), "transcript", "abc", models.ImportOptions{})
	assert.True(t, errors.Is(err, apperrors.ErrUnknownRecordType))

	_, err = h.svc.Run(context.Background(), "enrollment", "3f1d0c7e-1111-4222-8333-444455556666", models.ImportOptions{})
	assert.True(t, errors.Is(err, apperrors.ErrSessionNotFound))

	_, err = h.svc.Run(context.Background(), "enrollment", "../../etc/passwd", models.ImportOptions{})
	assert.True(t, errors.Is(err, apperrors.ErrSessionNotFound))
}

func TestImport_SessionBelongsToRecordType(t *testing.T) {
	h := newImportHarness(t)
	p := h.preview(t, "enrollment", "Enrollment No,Name\nA1,a\n")

	_, err := h.svc.Run(context.Background(), "degree", p.SessionID, models.ImportOptions{})
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

func TestImport_PrefetchFailureFailsClosed(t *testing.T) {
	h := newImportHarness(t)
	h.seedEnrollment("EN001", "Asha")
	h.repo.existingErr = errStoreDown

	res := h.importCSV(t, "degree", "Enrollment No,Degree,Convocation No\nEN001,B.Sc,5\n", models.ImportOptions{})

	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, "Enrollment not found: EN001", res.Failures[0].Reason)
}

func TestImport_StoreErrorsAreClassified(t *testing.T) {
	t.Run("constraint", func(t *testing.T) {
		h := newImportHarness(t)
		h.repo.unique["enrollments"] = []string{"temp_enrollment_no"}
		h.repo.seed("enrollments", models.Record{"enrollment_no": "EN001", "student_name": "A", "temp_enrollment_no": "T1"})

		res := h.importCSV(t, "enrollment", "Enrollment No,Name,Temp Enrollment\nEN002,B,T1\n", models.ImportOptions{})
		require.Equal(t, 1, res.Failed)
		assert.Contains(t, res.Failures[0].Reason, "duplicate value violates unique constraint")
	})

	t.Run("generic", func(t *testing.T) {
		h := newImportHarness(t)
		h.repo.createErr = errStoreDown

		res := h.importCSV(t, "enrollment", "Enrollment No,Name\nEN002,B\n", models.ImportOptions{})
		require.Equal(t, 1, res.Failed)
		assert.Equal(t, "store error: connection refused", res.Failures[0].Reason)
	})
}

func TestImport_EmptyRowsSkipped(t *testing.T) {
	h := newImportHarness(t)

	res := h.importCSV(t, "enrollment", "Enrollment No,Name\nA1,a\n,\n , \nA2,b\n", models.ImportOptions{})

	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 2, res.Inserted)
}

func TestImport_SuspiciousValuesLoggedButImported(t *testing.T) {
	h := newImportHarness(t)

	res := h.importCSV(t, "enrollment", "Enrollment No,Name\nEN001,1' OR '1'='1\n", models.ImportOptions{})

	assert.Equal(t, 1, res.Inserted)
	entries := h.security.FilterMessage("Suspicious spreadsheet cell").All()
	require.NotEmpty(t, entries)
	assert.Equal(t, "student_name", entries[0].ContextMap()["field"])
}

func TestImport_RecordsActivityAndOutcomeLog(t *testing.T) {
	h := newImportHarness(t)

	res := h.importCSV(t, "enrollment", "Enrollment No,Name\nEN001,a\n", models.ImportOptions{})

	require.Len(t, h.activity.entries, 1)
	entry := h.activity.entries[0]
	assert.Equal(t, models.ActivityImport, entry.Action)
	assert.Equal(t, res.SessionID, entry.SessionID)
	assert.Equal(t, res.LogURL, entry.LogURL)

	logged := h.logs.last()
	assert.Equal(t, "Enrollment", logged.displayName)
	assert.Equal(t, res.SessionID, logged.tag)
	for _, name := range []string{"Summary", "Inserted", "Updated", "Failed"} {
		_, ok := logged.sheet(name)
		assert.True(t, ok, "sheet %s", name)
	}
	_, ok := logged.sheet("DuplicateKeys")
	assert.False(t, ok, "enrollments have no composite key")
}

func TestImport_ActivityFailureIsNotFatal(t *testing.T) {
	h := newImportHarness(t)
	h.activity.err = errStoreDown

	res := h.importCSV(t, "enrollment", "Enrollment No,Name\nEN001,a\n", models.ImportOptions{})
	assert.Equal(t, models.ImportStatusCompleted, res.Status)
}

func TestPreview_ReportsMappingAndSamples(t *testing.T) {
	h := newImportHarness(t)

	p := h.preview(t, "enrollment", "Enrollment No,Name,Shoe Size,Active\nEN001, Asha ,9,yes\n")

	assert.Equal(t, "enrollment", p.RecordType)
	assert.Equal(t, []string{"Sheet1"}, p.Sheets)
	assert.Equal(t, 1, p.Total)
	assert.Equal(t, []string{"Shoe Size"}, p.UnmatchedHeaders)
	assert.Empty(t, p.MissingRequiredFields)
	require.Len(t, p.SampleRows, 1)
	assert.Equal(t, "Asha", p.SampleRows[0]["student_name"])
	assert.Equal(t, true, p.SampleRows[0]["is_active"])
	assert.Empty(t, h.repo.rows("enrollments"), "preview never writes")
}

func TestPreview_Errors(t *testing.T) {
	h := newImportHarness(t)

	_, err := h.svc.Preview(context.Background(), "transcript", "x.csv", strings.NewReader("a\n"), "")
	assert.True(t, errors.Is(err, apperrors.ErrUnknownRecordType))

	_, err = h.svc.Preview(context.Background(), "enrollment", "x.pdf", strings.NewReader("a\n"), "")
	assert.True(t, errors.Is(err, apperrors.ErrUnreadableFile))

	_, err = h.svc.Preview(context.Background(), "enrollment", "x.csv", strings.NewReader("a\n"), "Other")
	assert.True(t, errors.Is(err, apperrors.ErrSheetNotFound))

	entries, err := os.ReadDir(h.uploadDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "rejected uploads are not kept")
}
