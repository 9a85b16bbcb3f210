package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/registrar-office/registrar-engine/pkg/models"
	"github.com/registrar-office/registrar-engine/pkg/repositories"
)

const defaultActivityLimit = 50

// ActivityService records import and prune runs. Recording is best effort:
// a failed write is logged and never fails the run it describes.
type ActivityService interface {
	Record(ctx context.Context, entry *models.ActivityLog)
	Recent(ctx context.Context, recordType string, limit int) ([]*models.ActivityLog, error)
}

type activityService struct {
	repo   repositories.ActivityRepository
	logger *zap.Logger
}

// NewActivityService creates an ActivityService.
func NewActivityService(repo repositories.ActivityRepository, logger *zap.Logger) ActivityService {
	return &activityService{repo: repo, logger: logger.Named("activity-service")}
}

var _ ActivityService = (*activityService)(nil)

func (s *activityService) Record(ctx context.Context, entry *models.ActivityLog) {
	if err := s.repo.Create(ctx, entry); err != nil {
		s.logger.Warn("Failed to record activity",
			zap.String("action", entry.Action),
			zap.String("record_type", entry.RecordType),
			zap.String("session_id", entry.SessionID),
			zap.Error(err))
	}
}

func (s *activityService) Recent(ctx context.Context, recordType string, limit int) ([]*models.ActivityLog, error) {
	if limit <= 0 || limit > 500 {
		limit = defaultActivityLimit
	}
	return s.repo.ListRecent(ctx, recordType, limit)
}
