package services

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/registrar-office/registrar-engine/pkg/apperrors"
	"github.com/registrar-office/registrar-engine/pkg/models"
	"github.com/registrar-office/registrar-engine/pkg/spreadsheet"
)

// UploadStore keeps uploaded workbooks on disk between preview and confirm.
// A session id is the uuid file stem of the stored upload.
type UploadStore interface {
	Save(recordType, originalName string, r io.Reader) (*models.UploadSession, error)
	// Resolve finds a stored upload by session id.
	Resolve(recordType, sessionID string) (*models.UploadSession, error)
}

type uploadStore struct {
	dir    string
	logger *zap.Logger
}

// NewUploadStore creates an UploadStore rooted at dir.
func NewUploadStore(dir string, logger *zap.Logger) UploadStore {
	return &uploadStore{dir: dir, logger: logger.Named("upload-store")}
}

var _ UploadStore = (*uploadStore)(nil)

func (s *uploadStore) Save(recordType, originalName string, r io.Reader) (*models.UploadSession, error) {
	ext := strings.ToLower(filepath.Ext(originalName))
	if !spreadsheet.SupportedExtension(ext) {
		return nil, fmt.Errorf("%w: unsupported file type %q", apperrors.ErrUnreadableFile, ext)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}

	id := uuid.New().String()
	path := filepath.Join(s.dir, id+ext)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}
	written, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(path)
		if copyErr == nil {
			copyErr = closeErr
		}
		return nil, fmt.Errorf("failed to store upload: %w", copyErr)
	}

	s.logger.Debug("Stored upload",
		zap.String("session_id", id),
		zap.String("record_type", recordType),
		zap.String("original_name", originalName),
		zap.Int64("bytes", written))

	return &models.UploadSession{
		ID:           id,
		RecordType:   recordType,
		FilePath:     path,
		OriginalName: originalName,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

func (s *uploadStore) Resolve(recordType, sessionID string) (*models.UploadSession, error) {
	// Only canonical uuids are accepted so the id can never name a path.
	id, err := uuid.Parse(sessionID)
	if err != nil || id.String() != sessionID {
		return nil, apperrors.ErrSessionNotFound
	}

	matches, err := filepath.Glob(filepath.Join(s.dir, sessionID+".*"))
	if err != nil || len(matches) == 0 {
		return nil, apperrors.ErrSessionNotFound
	}
	info, err := os.Stat(matches[0])
	if err != nil {
		return nil, apperrors.ErrSessionNotFound
	}
	return &models.UploadSession{
		ID:           sessionID,
		RecordType:   recordType,
		FilePath:     matches[0],
		OriginalName: filepath.Base(matches[0]),
		CreatedAt:    info.ModTime().UTC(),
	}, nil
}
