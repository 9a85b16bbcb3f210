package services

import (
	"strings"

	"github.com/registrar-office/registrar-engine/pkg/models"
	"github.com/registrar-office/registrar-engine/pkg/normalize"
)

// minFuzzyLength is the shortest normalized name allowed to take part in a
// substring match. It keeps names like "id" from matching every header that
// happens to contain those letters.
const minFuzzyLength = 3

type headerCandidate struct {
	index int
	field string
	norm  string
}

// MapHeaders resolves each spreadsheet header to at most one schema field.
//
// Exact and alias matches are assigned for every header before any fuzzy
// match is attempted, so a fuzzy guess can never take a field that a later
// header names exactly. A field is claimed at most once.
func MapHeaders(headers []string, schema *models.RecordSchema) models.HeaderMapping {
	fields := make([]headerCandidate, len(schema.Fields))
	byNorm := make(map[string]string, len(schema.Fields))
	for i, f := range schema.Fields {
		n := normalize.Header(f.Name)
		fields[i] = headerCandidate{index: i, field: f.Name, norm: n}
		if _, ok := byNorm[n]; !ok {
			byNorm[n] = f.Name
		}
	}

	claimed := make(map[string]bool, len(schema.Fields))
	assigned := make([]*models.ColumnMapping, len(headers))

	for i, h := range headers {
		norm := normalize.Header(h)
		if norm == "" {
			continue
		}
		if field, ok := byNorm[norm]; ok && !claimed[field] {
			claimed[field] = true
			assigned[i] = &models.ColumnMapping{Index: i, Header: h, Field: field, Method: models.MatchExact}
			continue
		}
		if field, ok := schema.Aliases[norm]; ok && schema.HasField(field) && !claimed[field] {
			claimed[field] = true
			assigned[i] = &models.ColumnMapping{Index: i, Header: h, Field: field, Method: models.MatchAlias}
		}
	}

	for i, h := range headers {
		if assigned[i] != nil {
			continue
		}
		norm := normalize.Header(h)
		if norm == "" {
			continue
		}
		if field := fuzzyField(norm, fields, claimed); field != "" {
			claimed[field] = true
			assigned[i] = &models.ColumnMapping{Index: i, Header: h, Field: field, Method: models.MatchFuzzy}
		}
	}

	result := models.HeaderMapping{
		HeaderToField:         make(map[string]string),
		Columns:               []models.ColumnMapping{},
		UnmatchedHeaders:      []string{},
		MissingRequiredFields: []string{},
	}
	for i, h := range headers {
		if assigned[i] == nil {
			if strings.TrimSpace(h) != "" {
				result.UnmatchedHeaders = append(result.UnmatchedHeaders, h)
			}
			continue
		}
		result.Columns = append(result.Columns, *assigned[i])
		result.HeaderToField[h] = assigned[i].Field
	}

	for _, name := range requiredColumns(schema) {
		if !claimed[name] {
			result.MissingRequiredFields = append(result.MissingRequiredFields, name)
		}
	}
	return result
}

// fuzzyField picks the unclaimed field whose normalized name contains, or is
// contained in, the header. Ties go to the smallest length difference and then
// to schema order.
func fuzzyField(header string, fields []headerCandidate, claimed map[string]bool) string {
	best := ""
	bestDiff := -1
	for _, f := range fields {
		if claimed[f.field] || f.norm == "" {
			continue
		}
		shorter, longer := f.norm, header
		if len(shorter) > len(longer) {
			shorter, longer = longer, shorter
		}
		if len(shorter) < minFuzzyLength || !strings.Contains(longer, shorter) {
			continue
		}
		diff := len(longer) - len(shorter)
		if bestDiff < 0 || diff < bestDiff {
			best, bestDiff = f.field, diff
		}
	}
	return best
}

// requiredColumns lists the columns the table itself cannot fill: not the
// primary key, not nullable and without a default.
func requiredColumns(schema *models.RecordSchema) []string {
	var out []string
	for _, f := range schema.Fields {
		if f.PrimaryKey || f.Nullable || f.HasDefault {
			continue
		}
		out = append(out, f.Name)
	}
	return out
}
