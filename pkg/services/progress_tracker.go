package services

import (
	"math"
	"sync"
	"time"

	"github.com/registrar-office/registrar-engine/pkg/apperrors"
	"github.com/registrar-office/registrar-engine/pkg/models"
)

// ProgressTracker keeps upload sessions and their progress in memory.
// Sessions do not survive a restart.
type ProgressTracker interface {
	// Create registers a session at preview time with its data row count.
	Create(session *models.UploadSession, total int)
	// Session returns the stored upload session.
	Session(id string) (*models.UploadSession, error)
	// Start resets the counters for a confirm run. A cancel requested
	// between preview and confirm is kept; one left by a finished run is not.
	Start(id string, total int) error
	Advance(id string, outcome models.RowOutcome)
	// RequestCancel flags a previewed or running session. It returns false
	// when the session is unknown or already finished.
	RequestCancel(id string) bool
	IsCanceled(id string) bool
	// Finish marks the session done. A nil err means it ended normally.
	Finish(id string, err error, logURL string)
	Read(id string) (models.ImportProgress, error)
}

type trackedSession struct {
	session  models.UploadSession
	progress models.ImportProgress
}

type progressTracker struct {
	mu       sync.Mutex
	sessions map[string]*trackedSession
	now      func() time.Time
}

// NewProgressTracker creates an empty in-memory tracker.
func NewProgressTracker() ProgressTracker {
	return &progressTracker{
		sessions: make(map[string]*trackedSession),
		now:      time.Now,
	}
}

var _ ProgressTracker = (*progressTracker)(nil)

func (t *progressTracker) Create(session *models.UploadSession, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sessions[session.ID] = &trackedSession{
		session: *session,
		progress: models.ImportProgress{
			SessionID:  session.ID,
			RecordType: session.RecordType,
			Total:      total,
			StartedAt:  t.now(),
		},
	}
}

func (t *progressTracker) Session(id string) (*models.UploadSession, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ts, ok := t.sessions[id]
	if !ok {
		return nil, apperrors.ErrSessionNotFound
	}
	s := ts.session
	return &s, nil
}

func (t *progressTracker) Start(id string, total int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	ts, ok := t.sessions[id]
	if !ok {
		return apperrors.ErrSessionNotFound
	}
	ts.progress = models.ImportProgress{
		SessionID:  id,
		RecordType: ts.session.RecordType,
		Total:      total,
		StartedAt:  t.now(),
		Canceled:   ts.progress.Canceled && !ts.progress.Done,
	}
	return nil
}

func (t *progressTracker) Advance(id string, outcome models.RowOutcome) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ts, ok := t.sessions[id]
	if !ok {
		return
	}
	p := &ts.progress
	p.Processed++
	switch outcome {
	case models.RowInserted:
		p.Inserted++
	case models.RowUpdated:
		p.Updated++
	case models.RowUnchanged:
		p.Unchanged++
	case models.RowFailed:
		p.Failed++
	}
}

func (t *progressTracker) RequestCancel(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	ts, ok := t.sessions[id]
	if !ok || ts.progress.Done {
		return false
	}
	ts.progress.Canceled = true
	return true
}

func (t *progressTracker) IsCanceled(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	ts, ok := t.sessions[id]
	return ok && ts.progress.Canceled
}

func (t *progressTracker) Finish(id string, err error, logURL string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ts, ok := t.sessions[id]
	if !ok {
		return
	}
	now := t.now()
	ts.progress.Done = true
	ts.progress.FinishedAt = &now
	ts.progress.LogURL = logURL
	if err != nil {
		ts.progress.Error = err.Error()
	}
}

func (t *progressTracker) Read(id string) (models.ImportProgress, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ts, ok := t.sessions[id]
	if !ok {
		return models.ImportProgress{}, apperrors.ErrSessionNotFound
	}
	p := ts.progress
	p.Percent = percent(p.Processed, p.Total, p.Done)
	return p, nil
}

func percent(processed, total int, done bool) int {
	if total <= 0 {
		if done {
			return 100
		}
		return 0
	}
	pct := int(math.Round(float64(processed) / float64(total) * 100))
	return max(0, min(100, pct))
}
