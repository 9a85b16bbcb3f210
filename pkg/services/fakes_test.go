package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/registrar-office/registrar-engine/pkg/apperrors"
	"github.com/registrar-office/registrar-engine/pkg/models"
	"github.com/registrar-office/registrar-engine/pkg/normalize"
	"github.com/registrar-office/registrar-engine/pkg/repositories"
	"github.com/registrar-office/registrar-engine/pkg/spreadsheet"
)

// fakeRecordRepo is an in-memory RecordRepository. Rows are kept per table in
// id order.
type fakeRecordRepo struct {
	mu     sync.Mutex
	tables map[string][]models.Record
	nextID map[string]int64
	// unique lists columns that reject duplicate raw values, per table.
	unique map[string][]string

	existingErr error
	createErr   error
	afterWrite  func(writes int)
	writes      int
	destroyed   [][]int64
}

func newFakeRecordRepo() *fakeRecordRepo {
	return &fakeRecordRepo{
		tables: make(map[string][]models.Record),
		nextID: make(map[string]int64),
		unique: make(map[string][]string),
	}
}

var _ repositories.RecordRepository = (*fakeRecordRepo)(nil)

func (f *fakeRecordRepo) seed(table string, rec models.Record) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.insertLocked(table, rec)
}

func (f *fakeRecordRepo) insertLocked(table string, rec models.Record) int64 {
	f.nextID[table]++
	id := f.nextID[table]
	row := models.Record{"id": id, "created_at": time.Now(), "updated_at": time.Now()}
	for k, v := range rec {
		row[k] = v
	}
	f.tables[table] = append(f.tables[table], row)
	return id
}

func (f *fakeRecordRepo) rows(table string) []models.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Record, len(f.tables[table]))
	copy(out, f.tables[table])
	return out
}

func (f *fakeRecordRepo) noteWrite() {
	f.writes++
	if f.afterWrite != nil {
		hook := f.afterWrite
		n := f.writes
		f.mu.Unlock()
		hook(n)
		f.mu.Lock()
	}
}

func (f *fakeRecordRepo) Count(_ context.Context, s *models.RecordSchema) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.tables[s.Table])), nil
}

func (f *fakeRecordRepo) FindByID(_ context.Context, s *models.RecordSchema, id int64) (models.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.tables[s.Table] {
		if r.ID("id") == id {
			return copyRecord(r), nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (f *fakeRecordRepo) FindByKey(_ context.Context, s *models.RecordSchema, conds []repositories.KeyCondition, limit int) ([]models.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Record
	for _, r := range f.tables[s.Table] {
		match := true
		for _, c := range conds {
			if normalize.Key(valueText(r[c.Field])) != c.Value {
				match = false
				break
			}
		}
		if match {
			out = append(out, copyRecord(r))
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeRecordRepo) Page(_ context.Context, s *models.RecordSchema, afterID int64, limit int) ([]models.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Record
	for _, r := range f.tables[s.Table] {
		if r.ID("id") > afterID {
			out = append(out, copyRecord(r))
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeRecordRepo) Create(_ context.Context, s *models.RecordSchema, payload models.Record) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return 0, f.createErr
	}
	for _, col := range f.unique[s.Table] {
		v, ok := payload[col]
		if !ok {
			continue
		}
		for _, r := range f.tables[s.Table] {
			if r[col] == v {
				return 0, &apperrors.ConstraintError{
					Kind:       apperrors.ConstraintUnique,
					Constraint: s.Table + "_" + col + "_key",
					Detail:     "Key (" + col + ")=(" + valueText(v) + ") already exists.",
				}
			}
		}
	}
	id := f.insertLocked(s.Table, payload)
	f.noteWrite()
	return id, nil
}

func (f *fakeRecordRepo) Update(_ context.Context, s *models.RecordSchema, id int64, payload models.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.tables[s.Table] {
		if r.ID("id") == id {
			for k, v := range payload {
				r[k] = v
			}
			r["updated_at"] = time.Now()
			f.noteWrite()
			return nil
		}
	}
	return apperrors.ErrNotFound
}

func (f *fakeRecordRepo) Destroy(_ context.Context, s *models.RecordSchema, ids []int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	drop := make(map[int64]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := f.tables[s.Table][:0]
	var n int64
	for _, r := range f.tables[s.Table] {
		if drop[r.ID("id")] {
			n++
			continue
		}
		kept = append(kept, r)
	}
	f.tables[s.Table] = kept
	f.destroyed = append(f.destroyed, append([]int64(nil), ids...))
	return n, nil
}

func (f *fakeRecordRepo) ExistingValues(_ context.Context, table, column string, keys []string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.existingErr != nil {
		return nil, f.existingErr
	}
	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}
	out := make(map[string]string)
	for _, r := range f.tables[table] {
		stored := valueText(r[column])
		k := normalize.Key(stored)
		if want[k] {
			if prev, ok := out[k]; !ok || stored < prev {
				out[k] = stored
			}
		}
	}
	return out, nil
}

func (f *fakeRecordRepo) DuplicateMembers(_ context.Context, s *models.RecordSchema, keys []string, normalized bool) ([]models.DuplicateGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	byKey := make(map[string]*models.DuplicateGroup)
	var order []string
	for _, r := range f.tables[s.Table] {
		parts := make([]string, len(keys))
		blank := true
		for i, k := range keys {
			parts[i] = valueText(r[k])
			if normalized {
				parts[i] = normalize.Key(parts[i])
			}
			if parts[i] != "" {
				blank = false
			}
		}
		if blank {
			continue
		}
		joined := strings.Join(parts, "\x00")
		g, ok := byKey[joined]
		if !ok {
			g = &models.DuplicateGroup{Key: parts}
			byKey[joined] = g
			order = append(order, joined)
		}
		m := models.DuplicateMember{ID: r.ID("id"), Values: map[string]any{}}
		for _, k := range keys {
			m.Values[k] = r[k]
		}
		if s.SecondaryField != "" {
			m.Secondary = valueText(r[s.SecondaryField])
		}
		g.Members = append(g.Members, m)
		g.Count = len(g.Members)
	}

	sort.Strings(order)
	var out []models.DuplicateGroup
	for _, k := range order {
		if byKey[k].Count > 1 {
			out = append(out, *byKey[k])
		}
	}
	return out, nil
}

func (f *fakeRecordRepo) ReferenceMismatches(_ context.Context, s *models.RecordSchema) ([]models.ReferenceMismatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ref := s.Reference
	known := make(map[string]bool)
	for _, r := range f.tables[ref.Table] {
		known[normalize.Key(valueText(r[ref.Column]))] = true
	}
	var out []models.ReferenceMismatch
	for _, r := range f.tables[s.Table] {
		v := valueText(r[ref.Field])
		if strings.TrimSpace(v) == "" || known[normalize.Key(v)] {
			continue
		}
		out = append(out, models.ReferenceMismatch{ID: r.ID("id"), Value: v})
	}
	return out, nil
}

func copyRecord(r models.Record) models.Record {
	out := make(models.Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

type fakeActivityRepo struct {
	mu      sync.Mutex
	entries []*models.ActivityLog
	err     error
}

var _ repositories.ActivityRepository = (*fakeActivityRepo)(nil)

func (f *fakeActivityRepo) Create(_ context.Context, entry *models.ActivityLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	entry.ID = int64(len(f.entries) + 1)
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeActivityRepo) ListRecent(_ context.Context, recordType string, limit int) ([]*models.ActivityLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.ActivityLog
	for i := len(f.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if recordType == "" || f.entries[i].RecordType == recordType {
			out = append(out, f.entries[i])
		}
	}
	return out, nil
}

// fakeLogWriter captures workbooks instead of writing files.
type fakeLogWriter struct {
	mu      sync.Mutex
	written []capturedLog
	err     error
}

type capturedLog struct {
	displayName string
	tag         string
	sheets      []spreadsheet.SheetData
}

func (f *fakeLogWriter) Write(displayName, tag string, sheets []spreadsheet.SheetData) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.written = append(f.written, capturedLog{displayName: displayName, tag: tag, sheets: sheets})
	return "/media/logs/" + displayName + "-" + tag + ".xlsx", nil
}

func (f *fakeLogWriter) last() capturedLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written[len(f.written)-1]
}

func (c capturedLog) sheet(name string) (spreadsheet.SheetData, bool) {
	for _, s := range c.sheets {
		if s.Name == name {
			return s, true
		}
	}
	return spreadsheet.SheetData{}, false
}

var errStoreDown = errors.New("connection refused")
