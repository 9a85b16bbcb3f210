package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/registrar-office/registrar-engine/pkg/apperrors"
	"github.com/registrar-office/registrar-engine/pkg/audit"
	"github.com/registrar-office/registrar-engine/pkg/models"
	"github.com/registrar-office/registrar-engine/pkg/registry"
	"github.com/registrar-office/registrar-engine/pkg/repositories"
	"github.com/registrar-office/registrar-engine/pkg/spreadsheet"
)

// DefaultDeleteBatchSize bounds the number of ids removed per delete statement.
const DefaultDeleteBatchSize = 5000

// AuditorService inspects stored records for duplicates and broken
// references, and prunes duplicate groups.
type AuditorService interface {
	FindDuplicates(ctx context.Context, recordType string, normalized bool) (*models.DuplicateReport, error)
	FindReferenceMismatches(ctx context.Context, recordType string) (*models.MismatchReport, error)
	PruneDuplicates(ctx context.Context, recordType string, opts models.PruneOptions) (*models.PruneResult, error)
}

type auditorService struct {
	registry        *registry.Registry
	repo            repositories.RecordRepository
	logs            OutcomeLogWriter
	activity        ActivityService
	security        *audit.SecurityAuditor
	deleteBatchSize int
	logger          *zap.Logger
}

// NewAuditorService creates an AuditorService. A non-positive deleteBatchSize
// uses the default.
func NewAuditorService(
	reg *registry.Registry,
	repo repositories.RecordRepository,
	logs OutcomeLogWriter,
	activity ActivityService,
	security *audit.SecurityAuditor,
	deleteBatchSize int,
	logger *zap.Logger,
) AuditorService {
	if deleteBatchSize <= 0 {
		deleteBatchSize = DefaultDeleteBatchSize
	}
	if security == nil {
		security = audit.NewSecurityAuditor(logger)
	}
	return &auditorService{
		registry:        reg,
		repo:            repo,
		logs:            logs,
		activity:        activity,
		security:        security,
		deleteBatchSize: deleteBatchSize,
		logger:          logger.Named("auditor-service"),
	}
}

var _ AuditorService = (*auditorService)(nil)

func (s *auditorService) FindDuplicates(ctx context.Context, recordType string, normalized bool) (*models.DuplicateReport, error) {
	schema, err := s.registry.Get(recordType)
	if err != nil {
		return nil, err
	}
	if len(schema.AuditKeys) == 0 {
		return nil, fmt.Errorf("%w: %s has no duplicate audit keys", apperrors.ErrInvalidInput, schema.Key)
	}

	groups, err := s.repo.DuplicateMembers(ctx, schema, schema.AuditKeys, normalized)
	if err != nil {
		return nil, err
	}
	if groups == nil {
		groups = []models.DuplicateGroup{}
	}

	report := &models.DuplicateReport{
		RecordType: schema.Key,
		Normalized: normalized,
		KeyFields:  schema.AuditKeys,
		Groups:     groups,
	}
	report.LogURL = s.writeLog(schema, "duplicates", duplicateSheets(schema, report))

	s.logger.Info("Duplicate scan finished",
		zap.String("record_type", schema.Key),
		zap.Bool("normalized", normalized),
		zap.Int("groups", len(groups)))
	return report, nil
}

func (s *auditorService) FindReferenceMismatches(ctx context.Context, recordType string) (*models.MismatchReport, error) {
	schema, err := s.registry.Get(recordType)
	if err != nil {
		return nil, err
	}
	ref := schema.Reference
	if ref == nil {
		return nil, fmt.Errorf("%w: %s has no cross-table reference", apperrors.ErrInvalidInput, schema.Key)
	}

	mismatches, err := s.repo.ReferenceMismatches(ctx, schema)
	if err != nil {
		return nil, err
	}
	if mismatches == nil {
		mismatches = []models.ReferenceMismatch{}
	}

	report := &models.MismatchReport{
		RecordType:      schema.Key,
		Field:           ref.Field,
		ReferencedTable: ref.Table,
		Mismatches:      mismatches,
	}

	rows := make([][]any, len(mismatches))
	for i, m := range mismatches {
		rows[i] = []any{m.ID, m.Value}
	}
	report.LogURL = s.writeLog(schema, "mismatches", []spreadsheet.SheetData{
		{
			Name:    "Summary",
			Headers: []string{"Metric", "Value"},
			Rows: [][]any{
				{"Record type", schema.DisplayName},
				{"Field", ref.Field},
				{"Referenced table", ref.Table},
				{"Mismatches", len(mismatches)},
			},
		},
		{Name: "Mismatches", Headers: []string{"ID", ref.Field}, Rows: rows},
	})

	s.logger.Info("Reference scan finished",
		zap.String("record_type", schema.Key),
		zap.Int("mismatches", len(mismatches)))
	return report, nil
}

// PruneDuplicates keeps the members of each normalized duplicate group that
// carry a secondary identifier and deletes the rest. A group where no member
// has one keeps its lowest id when KeepOne is set and is left alone otherwise.
func (s *auditorService) PruneDuplicates(ctx context.Context, recordType string, opts models.PruneOptions) (*models.PruneResult, error) {
	schema, err := s.registry.Get(recordType)
	if err != nil {
		return nil, err
	}
	if len(schema.AuditKeys) == 0 {
		return nil, fmt.Errorf("%w: %s has no duplicate audit keys", apperrors.ErrInvalidInput, schema.Key)
	}

	groups, err := s.repo.DuplicateMembers(ctx, schema, schema.AuditKeys, true)
	if err != nil {
		return nil, err
	}

	result := &models.PruneResult{
		RecordType: schema.Key,
		DryRun:     opts.DryRun,
		Groups:     len(groups),
		Kept:       []int64{},
		ToDelete:   []int64{},
	}
	for _, g := range groups {
		keep, drop := partitionGroup(g, opts.KeepOne)
		result.Kept = append(result.Kept, keep...)
		result.ToDelete = append(result.ToDelete, drop...)
	}

	status := models.ImportStatusCompleted
	var pruneErr error
	if !opts.DryRun {
		pruneErr = s.deleteInBatches(ctx, schema, result)
		if pruneErr != nil {
			status = models.ImportStatusFailed
		}
	}

	result.LogURL = s.writeLog(schema, "prune", pruneSheets(schema, result, groups))

	s.activity.Record(context.WithoutCancel(ctx), &models.ActivityLog{
		Action:     models.ActivityPrune,
		RecordType: schema.Key,
		Status:     status,
		LogURL:     result.LogURL,
		Summary: map[string]any{
			"dry_run":   opts.DryRun,
			"keep_one":  opts.KeepOne,
			"groups":    result.Groups,
			"kept":      len(result.Kept),
			"to_delete": len(result.ToDelete),
			"deleted":   result.Deleted,
		},
	})

	s.logger.Info("Prune finished",
		zap.String("record_type", schema.Key),
		zap.Bool("dry_run", opts.DryRun),
		zap.Int("groups", result.Groups),
		zap.Int("to_delete", len(result.ToDelete)),
		zap.Int("deleted", result.Deleted))

	if pruneErr != nil {
		return result, pruneErr
	}
	return result, nil
}

func (s *auditorService) deleteInBatches(ctx context.Context, schema *models.RecordSchema, result *models.PruneResult) error {
	ids := result.ToDelete
	for start := 0; start < len(ids); start += s.deleteBatchSize {
		end := min(start+s.deleteBatchSize, len(ids))
		n, err := s.repo.Destroy(ctx, schema, ids[start:end])
		if err != nil {
			return fmt.Errorf("failed to delete %s duplicates after %d rows: %w", schema.Key, result.Deleted, err)
		}
		result.Deleted += int(n)
		s.security.LogBulkDelete(schema.Key, audit.BulkDeleteDetails{
			Table:   schema.Table,
			Deleted: int(n),
			IDs:     ids[start:end],
		})
	}
	return nil
}

// partitionGroup splits a duplicate group into kept and deleted ids.
func partitionGroup(g models.DuplicateGroup, keepOne bool) (keep, drop []int64) {
	for _, m := range g.Members {
		if strings.TrimSpace(m.Secondary) != "" {
			keep = append(keep, m.ID)
		} else {
			drop = append(drop, m.ID)
		}
	}
	if len(keep) > 0 {
		return keep, drop
	}

	if !keepOne {
		return drop, nil
	}
	lowest := 0
	for i, m := range g.Members {
		if m.ID < g.Members[lowest].ID {
			lowest = i
		}
	}
	keep = []int64{g.Members[lowest].ID}
	drop = drop[:0]
	for i, m := range g.Members {
		if i != lowest {
			drop = append(drop, m.ID)
		}
	}
	return keep, drop
}

// writeLog stores a workbook and returns its URL. A failed write is logged
// and yields an empty URL.
func (s *auditorService) writeLog(schema *models.RecordSchema, kind string, sheets []spreadsheet.SheetData) string {
	tag := kind + "-" + uuid.NewString()[:8]
	logURL, err := s.logs.Write(schema.DisplayName, tag, sheets)
	if err != nil {
		s.logger.Error("Failed to write audit log",
			zap.String("record_type", schema.Key),
			zap.String("kind", kind),
			zap.Error(err))
		return ""
	}
	return logURL
}

func duplicateSheets(schema *models.RecordSchema, report *models.DuplicateReport) []spreadsheet.SheetData {
	members := 0
	for _, g := range report.Groups {
		members += g.Count
	}
	summary := spreadsheet.SheetData{
		Name:    "Summary",
		Headers: []string{"Metric", "Value"},
		Rows: [][]any{
			{"Record type", schema.DisplayName},
			{"Key fields", strings.Join(report.KeyFields, ", ")},
			{"Normalized", report.Normalized},
			{"Groups", len(report.Groups)},
			{"Records in groups", members},
		},
	}
	return []spreadsheet.SheetData{summary, groupSheet(schema, "Groups", report.Groups)}
}

func pruneSheets(schema *models.RecordSchema, result *models.PruneResult, groups []models.DuplicateGroup) []spreadsheet.SheetData {
	summary := spreadsheet.SheetData{
		Name:    "Summary",
		Headers: []string{"Metric", "Value"},
		Rows: [][]any{
			{"Record type", schema.DisplayName},
			{"Dry run", result.DryRun},
			{"Groups", result.Groups},
			{"Kept", len(result.Kept)},
			{"To delete", len(result.ToDelete)},
			{"Deleted", result.Deleted},
		},
	}

	dropped := make(map[int64]bool, len(result.ToDelete))
	for _, id := range result.ToDelete {
		dropped[id] = true
	}
	var keptGroups, deletedGroups []models.DuplicateGroup
	for _, g := range groups {
		var keep, drop []models.DuplicateMember
		for _, m := range g.Members {
			if dropped[m.ID] {
				drop = append(drop, m)
			} else {
				keep = append(keep, m)
			}
		}
		if len(keep) > 0 {
			keptGroups = append(keptGroups, models.DuplicateGroup{Key: g.Key, Count: len(keep), Members: keep})
		}
		if len(drop) > 0 {
			deletedGroups = append(deletedGroups, models.DuplicateGroup{Key: g.Key, Count: len(drop), Members: drop})
		}
	}

	deletedName := "Deleted"
	if result.DryRun {
		deletedName = "WouldDelete"
	}
	return []spreadsheet.SheetData{
		summary,
		groupSheet(schema, "Kept", keptGroups),
		groupSheet(schema, deletedName, deletedGroups),
	}
}

func groupSheet(schema *models.RecordSchema, name string, groups []models.DuplicateGroup) spreadsheet.SheetData {
	headers := []string{"Group", "ID"}
	headers = append(headers, schema.AuditKeys...)
	if schema.SecondaryField != "" {
		headers = append(headers, schema.SecondaryField)
	}

	sd := spreadsheet.SheetData{Name: name, Headers: headers}
	for gi, g := range groups {
		for _, m := range g.Members {
			line := []any{gi + 1, m.ID}
			for _, k := range schema.AuditKeys {
				line = append(line, m.Values[k])
			}
			if schema.SecondaryField != "" {
				line = append(line, m.Secondary)
			}
			sd.Rows = append(sd.Rows, line)
		}
	}
	return sd
}
