//go:build integration

package repositories

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/registrar-office/registrar-engine/pkg/apperrors"
	"github.com/registrar-office/registrar-engine/pkg/models"
	"github.com/registrar-office/registrar-engine/pkg/registry"
	"github.com/registrar-office/registrar-engine/pkg/testhelpers"
)

type recordTestContext struct {
	t          *testing.T
	repo       RecordRepository
	enrollment *models.RecordSchema
	degree     *models.RecordSchema
}

func setupRecordTest(t *testing.T) *recordTestContext {
	engineDB := testhelpers.GetEngineDB(t)
	engineDB.Truncate(t, "degrees", "enrollments")

	reg, err := registry.Default()
	require.NoError(t, err)
	enrollment, err := reg.Get("enrollment")
	require.NoError(t, err)
	degree, err := reg.Get("degree")
	require.NoError(t, err)

	return &recordTestContext{
		t:          t,
		repo:       NewRecordRepository(engineDB.DB),
		enrollment: enrollment,
		degree:     degree,
	}
}

func (tc *recordTestContext) createEnrollment(no, name string) int64 {
	tc.t.Helper()
	id, err := tc.repo.Create(context.Background(), tc.enrollment, models.Record{
		"enrollment_no": no,
		"student_name":  name,
	})
	require.NoError(tc.t, err)
	return id
}

func TestRecordRepository_CreateFindUpdate(t *testing.T) {
	tc := setupRecordTest(t)
	ctx := context.Background()

	id := tc.createEnrollment("EN001", "Asha Patel")
	assert.Positive(t, id)

	rec, err := tc.repo.FindByID(ctx, tc.enrollment, id)
	require.NoError(t, err)
	assert.Equal(t, "EN001", rec["enrollment_no"])
	assert.Equal(t, true, rec["is_active"], "column default applied")
	assert.Equal(t, id, rec.ID("id"))

	err = tc.repo.Update(ctx, tc.enrollment, id, models.Record{"student_name": "Asha R. Patel", "batch": int64(2021)})
	require.NoError(t, err)

	rec, err = tc.repo.FindByID(ctx, tc.enrollment, id)
	require.NoError(t, err)
	assert.Equal(t, "Asha R. Patel", rec["student_name"])
	assert.Equal(t, int64(2021), rec["batch"], "integer columns widen to int64")

	n, err := tc.repo.Count(ctx, tc.enrollment)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRecordRepository_NotFound(t *testing.T) {
	tc := setupRecordTest(t)
	ctx := context.Background()

	_, err := tc.repo.FindByID(ctx, tc.enrollment, 999)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))

	err = tc.repo.Update(ctx, tc.enrollment, 999, models.Record{"student_name": "x"})
	assert.True(t, IsNotFound(err))
}

func TestRecordRepository_ConstraintErrorsAreClassified(t *testing.T) {
	tc := setupRecordTest(t)
	ctx := context.Background()

	tc.createEnrollment("EN001", "Asha")
	_, err := tc.repo.Create(ctx, tc.enrollment, models.Record{"enrollment_no": "EN001", "student_name": "Other"})
	require.Error(t, err)

	var ce *apperrors.ConstraintError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, apperrors.ConstraintUnique, ce.Kind)

	_, err = tc.repo.Create(ctx, tc.enrollment, models.Record{"enrollment_no": "EN002"})
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, apperrors.ConstraintNotNull, ce.Kind)
	assert.Equal(t, "student_name", ce.Column)
}

func TestRecordRepository_FindByKeyIsNormalized(t *testing.T) {
	tc := setupRecordTest(t)
	ctx := context.Background()

	first := tc.createEnrollment("  en  001 ", "A")
	tc.createEnrollment("EN002", "B")

	found, err := tc.repo.FindByKey(ctx, tc.enrollment, []KeyCondition{{Field: "enrollment_no", Value: "en 001"}}, 2)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, first, found[0].ID("id"))
}

func TestRecordRepository_ExistingValues(t *testing.T) {
	tc := setupRecordTest(t)
	ctx := context.Background()

	tc.createEnrollment("EN001", "A")
	tc.createEnrollment("En 002", "B")

	got, err := tc.repo.ExistingValues(ctx, "enrollments", "enrollment_no", []string{"en001", "en 002", "en003"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"en001": "EN001", "en 002": "En 002"}, got)
}

func TestRecordRepository_KeyFoldsStoredControlWhitespace(t *testing.T) {
	tc := setupRecordTest(t)
	ctx := context.Background()

	tabbed := tc.createEnrollment("\tEN003", "A")
	tc.createEnrollment("EN004\n", "B")
	tc.createEnrollment("EN\u00a0005", "C")

	found, err := tc.repo.FindByKey(ctx, tc.enrollment, []KeyCondition{{Field: "enrollment_no", Value: "en003"}}, 2)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, tabbed, found[0].ID("id"))

	got, err := tc.repo.ExistingValues(ctx, "enrollments", "enrollment_no", []string{"en004", "en 005"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"en004": "EN004\n", "en 005": "EN\u00a0005"}, got)
}

func TestRecordRepository_NormalizedKeyIndexMatchesLookup(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)

	var def string
	err := engineDB.DB.QueryRow(context.Background(), `
		SELECT indexdef FROM pg_indexes
		WHERE tablename = 'enrollments' AND indexname = 'idx_enrollments_enrollment_no_norm'
	`).Scan(&def)
	require.NoError(t, err)
	assert.Contains(t, def, "regexp_replace")
	assert.Contains(t, def, "btrim(regexp_replace")
}

func TestRecordRepository_DuplicateMembersAndDestroy(t *testing.T) {
	tc := setupRecordTest(t)
	ctx := context.Background()

	tc.createEnrollment("EN001", "A")
	for _, serial := range []string{"DG1", ""} {
		payload := models.Record{"enrollment_no": "EN001", "convocation_no": int64(5), "degree_name": "B.Sc"}
		if serial != "" {
			payload["dg_sr_no"] = serial
		}
		_, err := tc.repo.Create(ctx, tc.degree, payload)
		require.NoError(t, err)
	}
	_, err := tc.repo.Create(ctx, tc.degree, models.Record{"enrollment_no": "en001 ", "convocation_no": int64(5), "degree_name": "b.sc"})
	require.NoError(t, err)

	strict, err := tc.repo.DuplicateMembers(ctx, tc.degree, tc.degree.AuditKeys, false)
	require.NoError(t, err)
	require.Len(t, strict, 1)
	assert.Equal(t, 2, strict[0].Count)
	assert.Equal(t, "DG1", strict[0].Members[0].Secondary)

	loose, err := tc.repo.DuplicateMembers(ctx, tc.degree, tc.degree.AuditKeys, true)
	require.NoError(t, err)
	require.Len(t, loose, 1)
	assert.Equal(t, 3, loose[0].Count)
	assert.Equal(t, []string{"en001", "5", "b.sc"}, loose[0].Key)

	deleted, err := tc.repo.Destroy(ctx, tc.degree, []int64{loose[0].Members[1].ID, loose[0].Members[2].ID})
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
}

func TestRecordRepository_ReferenceMismatches(t *testing.T) {
	tc := setupRecordTest(t)
	ctx := context.Background()

	tc.createEnrollment("EN001", "A")
	_, err := tc.repo.Create(ctx, tc.degree, models.Record{"enrollment_no": " en001"})
	require.NoError(t, err)
	orphan, err := tc.repo.Create(ctx, tc.degree, models.Record{"enrollment_no": "EN404"})
	require.NoError(t, err)

	got, err := tc.repo.ReferenceMismatches(ctx, tc.degree)
	require.NoError(t, err)
	assert.Equal(t, []models.ReferenceMismatch{{ID: orphan, Value: "EN404"}}, got)
}

func TestRecordRepository_Page(t *testing.T) {
	tc := setupRecordTest(t)
	ctx := context.Background()

	for _, no := range []string{"A1", "A2", "A3"} {
		tc.createEnrollment(no, "x")
	}
	page, err := tc.repo.Page(ctx, tc.enrollment, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)

	rest, err := tc.repo.Page(ctx, tc.enrollment, page[1].ID("id"), 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "A3", rest[0]["enrollment_no"])
}
