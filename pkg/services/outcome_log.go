package services

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/registrar-office/registrar-engine/pkg/spreadsheet"
)

// OutcomeLogWriter writes result workbooks into the served logs directory.
type OutcomeLogWriter interface {
	// Write stores sheets as <displayName>-<timestamp>-<tag>.xlsx and returns
	// the public URL of the file.
	Write(displayName, tag string, sheets []spreadsheet.SheetData) (string, error)
}

type outcomeLogWriter struct {
	dir       string
	urlPrefix string
	now       func() time.Time
}

// NewOutcomeLogWriter creates a writer storing files in dir and linking them
// under urlPrefix.
func NewOutcomeLogWriter(dir, urlPrefix string) OutcomeLogWriter {
	return &outcomeLogWriter{
		dir:       dir,
		urlPrefix: strings.TrimRight(urlPrefix, "/"),
		now:       time.Now,
	}
}

var _ OutcomeLogWriter = (*outcomeLogWriter)(nil)

func (w *outcomeLogWriter) Write(displayName, tag string, sheets []spreadsheet.SheetData) (string, error) {
	name := logFileName(displayName, tag, w.now())
	if err := spreadsheet.WriteWorkbook(filepath.Join(w.dir, name), sheets); err != nil {
		return "", fmt.Errorf("failed to write outcome log: %w", err)
	}
	return w.urlPrefix + "/" + url.PathEscape(name), nil
}

var timestampReplacer = strings.NewReplacer(":", "-", ".", "-")

func logFileName(displayName, tag string, at time.Time) string {
	ts := timestampReplacer.Replace(at.UTC().Format("2006-01-02T15:04:05.000Z07:00"))
	return fmt.Sprintf("%s-%s-%s.xlsx", displayName, ts, tag)
}
