package repositories

import (
	"context"
	"fmt"

	"github.com/registrar-office/registrar-engine/pkg/database"
	"github.com/registrar-office/registrar-engine/pkg/models"
)

// ActivityRepository stores one row per import or prune run.
type ActivityRepository interface {
	Create(ctx context.Context, entry *models.ActivityLog) error
	// ListRecent returns the newest entries first. An empty recordType lists all types.
	ListRecent(ctx context.Context, recordType string, limit int) ([]*models.ActivityLog, error)
}

type activityRepository struct {
	db database.Querier
}

// NewActivityRepository creates an ActivityRepository over db.
func NewActivityRepository(db database.Querier) ActivityRepository {
	return &activityRepository{db: db}
}

var _ ActivityRepository = (*activityRepository)(nil)

func (r *activityRepository) Create(ctx context.Context, entry *models.ActivityLog) error {
	summary := entry.Summary
	if summary == nil {
		summary = map[string]any{}
	}

	query := `
		INSERT INTO activity_logs (action, record_type, session_id, status, summary, log_url)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	err := r.db.QueryRow(ctx, query,
		entry.Action, entry.RecordType, nullString(entry.SessionID), entry.Status, summary, nullString(entry.LogURL),
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create activity log: %w", err)
	}
	return nil
}

func (r *activityRepository) ListRecent(ctx context.Context, recordType string, limit int) ([]*models.ActivityLog, error) {
	query := `
		SELECT id, action, record_type, COALESCE(session_id, ''), status, summary, COALESCE(log_url, ''), created_at
		FROM activity_logs
		WHERE $1 = '' OR record_type = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, recordType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity logs: %w", err)
	}
	defer rows.Close()

	var entries []*models.ActivityLog
	for rows.Next() {
		var e models.ActivityLog
		if err := rows.Scan(&e.ID, &e.Action, &e.RecordType, &e.SessionID, &e.Status, &e.Summary, &e.LogURL, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity log: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activity logs: %w", err)
	}
	return entries, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
