package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/registrar-office/registrar-engine/pkg/models"
	"github.com/registrar-office/registrar-engine/pkg/repositories"
	"github.com/registrar-office/registrar-engine/pkg/spreadsheet"
)

// DefaultPrefetchBatchSize bounds the number of keys sent in one lookup query.
const DefaultPrefetchBatchSize = 5000

// ReferenceSet holds the referenced keys that exist in the store, keyed by
// their normalized form.
type ReferenceSet struct {
	// Canonical maps a normalized key to the value as stored.
	Canonical map[string]string
}

// Exists reports whether the normalized key was found.
func (r *ReferenceSet) Exists(key string) bool {
	if r == nil {
		return false
	}
	_, ok := r.Canonical[key]
	return ok
}

// CanonicalValue returns the stored spelling of a normalized key.
func (r *ReferenceSet) CanonicalValue(key string) (string, bool) {
	if r == nil {
		return "", false
	}
	v, ok := r.Canonical[key]
	return v, ok
}

func emptyReferenceSet() *ReferenceSet {
	return &ReferenceSet{Canonical: map[string]string{}}
}

// Prefetcher loads every referenced key a sheet needs in a few batched queries
// so rows never check references one at a time.
type Prefetcher interface {
	Prefetch(ctx context.Context, schema *models.RecordSchema, sheet *spreadsheet.Sheet, mapping models.HeaderMapping) *ReferenceSet
}

type prefetcher struct {
	repo      repositories.RecordRepository
	batchSize int
	logger    *zap.Logger
}

// NewPrefetcher creates a Prefetcher. A non-positive batchSize uses the default.
func NewPrefetcher(repo repositories.RecordRepository, batchSize int, logger *zap.Logger) Prefetcher {
	if batchSize <= 0 {
		batchSize = DefaultPrefetchBatchSize
	}
	return &prefetcher{
		repo:      repo,
		batchSize: batchSize,
		logger:    logger.Named("prefetcher"),
	}
}

var _ Prefetcher = (*prefetcher)(nil)

// Prefetch returns the referenced keys present in the store. A failed query
// yields an empty set, so every reference check on the insert path fails.
func (p *prefetcher) Prefetch(ctx context.Context, schema *models.RecordSchema, sheet *spreadsheet.Sheet, mapping models.HeaderMapping) *ReferenceSet {
	ref := schema.Reference
	if ref == nil {
		return emptyReferenceSet()
	}

	col := -1
	for _, c := range mapping.Columns {
		if c.Field == ref.Field {
			col = c.Index
			break
		}
	}
	if col < 0 {
		return emptyReferenceSet()
	}

	seen := make(map[string]bool)
	var keys []string
	for _, row := range sheet.Rows {
		v := Coerce(row.At(col), models.FieldString)
		if v == nil {
			continue
		}
		k := keyString(v)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}

	set := emptyReferenceSet()
	for start := 0; start < len(keys); start += p.batchSize {
		end := min(start+p.batchSize, len(keys))
		found, err := p.repo.ExistingValues(ctx, ref.Table, ref.Column, keys[start:end])
		if err != nil {
			p.logger.Warn("Reference prefetch failed; treating all references as missing",
				zap.String("record_type", schema.Key),
				zap.String("table", ref.Table),
				zap.String("column", ref.Column),
				zap.Int("keys", len(keys)),
				zap.Error(err))
			return emptyReferenceSet()
		}
		for k, v := range found {
			set.Canonical[k] = v
		}
	}

	p.logger.Debug("Prefetched references",
		zap.String("record_type", schema.Key),
		zap.Int("distinct_keys", len(keys)),
		zap.Int("found", len(set.Canonical)))
	return set
}
