package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/registrar-office/registrar-engine/pkg/models"
	"github.com/registrar-office/registrar-engine/pkg/registry"
	"github.com/registrar-office/registrar-engine/pkg/repositories"
	"github.com/registrar-office/registrar-engine/pkg/spreadsheet"
)

// ExportService writes every stored record of a type to a workbook.
type ExportService interface {
	Export(ctx context.Context, recordType string) (*models.ExportResult, error)
}

type exportService struct {
	registry *registry.Registry
	repo     repositories.RecordRepository
	logs     OutcomeLogWriter
	pageSize int
	logger   *zap.Logger
}

// NewExportService creates an ExportService reading pageSize rows per query.
func NewExportService(reg *registry.Registry, repo repositories.RecordRepository, logs OutcomeLogWriter, pageSize int, logger *zap.Logger) ExportService {
	if pageSize <= 0 {
		pageSize = DefaultPrefetchBatchSize
	}
	return &exportService{
		registry: reg,
		repo:     repo,
		logs:     logs,
		pageSize: pageSize,
		logger:   logger.Named("export-service"),
	}
}

var _ ExportService = (*exportService)(nil)

func (s *exportService) Export(ctx context.Context, recordType string) (*models.ExportResult, error) {
	schema, err := s.registry.Get(recordType)
	if err != nil {
		return nil, err
	}

	fields := schema.FieldNames()
	sheet := spreadsheet.SheetData{Name: schema.DisplayName, Headers: fields}
	pk := schema.PrimaryKey()

	var after int64
	for {
		page, err := s.repo.Page(ctx, schema, after, s.pageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to export %s: %w", schema.Key, err)
		}
		for _, rec := range page {
			line := make([]any, len(fields))
			for i, f := range fields {
				line[i] = rec[f]
			}
			sheet.Rows = append(sheet.Rows, line)
		}
		if len(page) < s.pageSize {
			break
		}
		after = page[len(page)-1].ID(pk)
	}

	logURL, err := s.logs.Write(schema.DisplayName, "export", []spreadsheet.SheetData{sheet})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Exported records",
		zap.String("record_type", schema.Key),
		zap.Int("rows", len(sheet.Rows)))

	return &models.ExportResult{RecordType: schema.Key, Rows: len(sheet.Rows), LogURL: logURL}, nil
}
