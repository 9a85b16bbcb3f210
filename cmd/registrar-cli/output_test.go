package main

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/registrar-office/registrar-engine/pkg/models"
	"github.com/registrar-office/registrar-engine/pkg/registry"
)

func init() {
	color.NoColor = true
}

func TestRenderImportResult(t *testing.T) {
	var buf bytes.Buffer
	renderImportResult(&buf, &models.ImportResult{
		RecordType: "degree",
		Status:     models.ImportStatusCompleted,
		Total:      5,
		Processed:  5,
		Inserted:   2,
		Updated:    1,
		Unchanged:  1,
		Failed:     1,
		Before:     10,
		After:      12,
		Delta:      2,
		Failures:   []models.RowResult{{Row: 4, Reason: "Enrollment not found"}},
		DuplicateKeys: []models.DuplicateKeyGroup{
			{Key: "en001 | 5", Count: 2, Rows: []int{2, 3}},
		},
		LogURL: "/media/logs/Degree-run.xlsx",
	})

	out := buf.String()
	assert.Contains(t, out, "Import degree: completed")
	assert.Contains(t, out, "5/5")
	assert.Contains(t, out, "+2")
	assert.Contains(t, out, "Enrollment not found")
	assert.Contains(t, out, "en001 | 5")
	assert.Contains(t, out, "2, 3")
	assert.Contains(t, out, "Log: /media/logs/Degree-run.xlsx")
}

func TestRenderImportResult_TruncatesFailures(t *testing.T) {
	failures := make([]models.RowResult, maxFailureRows+3)
	for i := range failures {
		failures[i] = models.RowResult{Row: i + 2, Reason: "Missing required field"}
	}

	var buf bytes.Buffer
	renderImportResult(&buf, &models.ImportResult{Status: models.ImportStatusFailed, Failures: failures})
	assert.Contains(t, buf.String(), "... and 3 more")
}

func TestRenderDuplicates(t *testing.T) {
	var buf bytes.Buffer
	renderDuplicates(&buf, &models.DuplicateReport{RecordType: "enrollment", Normalized: true, KeyFields: []string{"enrollment_no"}})
	assert.Contains(t, buf.String(), "OK: no duplicate enrollment records (normalized match on enrollment_no)")

	buf.Reset()
	renderDuplicates(&buf, &models.DuplicateReport{
		RecordType: "degree",
		KeyFields:  []string{"enrollment_no", "convocation_no"},
		Groups: []models.DuplicateGroup{{
			Key:     []string{"EN001", "5"},
			Count:   2,
			Members: []models.DuplicateMember{{ID: 7}, {ID: 9}},
		}},
	})
	out := buf.String()
	assert.Contains(t, out, "1 duplicate groups of degree (exact match")
	assert.Contains(t, out, "EN001 | 5")
	assert.Contains(t, out, "7, 9")
}

func TestRenderPrune(t *testing.T) {
	var buf bytes.Buffer
	renderPrune(&buf, &models.PruneResult{DryRun: true, Groups: 2, Kept: []int64{1, 4}, ToDelete: []int64{2, 3}})
	assert.Contains(t, buf.String(), "Dry run: 2 groups, 2 records would be deleted")

	buf.Reset()
	renderPrune(&buf, &models.PruneResult{Groups: 2, Kept: []int64{1}, ToDelete: []int64{2, 3}, Deleted: 2})
	assert.Contains(t, buf.String(), "Pruned: 2 groups, 2 records deleted")
}

func TestRenderMismatches(t *testing.T) {
	var buf bytes.Buffer
	renderMismatches(&buf, &models.MismatchReport{
		RecordType:      "degree",
		Field:           "enrollment_no",
		ReferencedTable: "enrollments",
		Mismatches:      []models.ReferenceMismatch{{ID: 2, Value: "EN404"}},
	})
	assert.Contains(t, buf.String(), "1 degree records reference a missing enrollments")
	assert.Contains(t, buf.String(), "EN404")
}

func TestRenderRecordTypes(t *testing.T) {
	reg, err := registry.Default()
	require.NoError(t, err)

	var buf bytes.Buffer
	renderRecordTypes(&buf, reg.List())
	out := buf.String()
	assert.Contains(t, out, "enrollment")
	assert.Contains(t, out, "enrollment_no+convocation_no")
}

func TestCommandArgs(t *testing.T) {
	assert.Error(t, importCmd.Args(importCmd, []string{"degree"}))
	assert.NoError(t, importCmd.Args(importCmd, []string{"degree", "file.xlsx"}))
	assert.Error(t, pruneCmd.Args(pruneCmd, nil))
	assert.Error(t, recordTypesCmd.Args(recordTypesCmd, []string{"extra"}))
}

func TestPruneDefaultsToDryRun(t *testing.T) {
	flag := pruneCmd.Flags().Lookup("apply")
	require.NotNil(t, flag)
	assert.Equal(t, "false", flag.DefValue)
}
