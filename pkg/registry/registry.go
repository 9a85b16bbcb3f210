// Package registry loads the record-type descriptors that drive the import
// engine and checks them against the live database catalog.
package registry

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/jinzhu/inflection"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/registrar-office/registrar-engine/pkg/apperrors"
	"github.com/registrar-office/registrar-engine/pkg/models"
	"github.com/registrar-office/registrar-engine/pkg/normalize"
)

//go:embed schemas.yaml
var builtinSchemas []byte

var defaultAuditFields = []string{"created_at", "updated_at"}

type document struct {
	Defaults struct {
		AuditFields []string `yaml:"audit_fields"`
	} `yaml:"defaults"`
	RecordTypes []*models.RecordSchema `yaml:"record_types"`
}

// Registry is an immutable set of record schemas keyed by record type.
type Registry struct {
	order   []string
	schemas map[string]*models.RecordSchema
}

// Default returns the registry built from the embedded descriptors.
func Default() (*Registry, error) {
	return Parse(builtinSchemas)
}

// LoadFile reads descriptors from path, or the embedded set when path is empty.
func LoadFile(path string) (*Registry, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML descriptor document.
func Parse(data []byte) (*Registry, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse schema descriptors: %w", err)
	}
	if len(doc.RecordTypes) == 0 {
		return nil, fmt.Errorf("schema descriptors define no record types")
	}

	auditFields := doc.Defaults.AuditFields
	if len(auditFields) == 0 {
		auditFields = defaultAuditFields
	}

	r := &Registry{schemas: make(map[string]*models.RecordSchema, len(doc.RecordTypes))}
	for _, s := range doc.RecordTypes {
		if err := prepare(s, auditFields); err != nil {
			return nil, fmt.Errorf("record type %q: %w", s.Key, err)
		}
		if _, dup := r.schemas[s.Key]; dup {
			return nil, fmt.Errorf("record type %q defined twice", s.Key)
		}
		r.schemas[s.Key] = s
		r.order = append(r.order, s.Key)
	}
	return r, nil
}

// prepare fills derived values and validates one descriptor.
func prepare(s *models.RecordSchema, auditFields []string) error {
	if s.Key == "" {
		return fmt.Errorf("missing key")
	}
	if s.DisplayName == "" {
		s.DisplayName = s.Key
	}
	if s.Table == "" {
		s.Table = inflection.Plural(s.Key)
	}
	if len(s.AuditFields) == 0 {
		s.AuditFields = auditFields
	}

	seen := make(map[string]bool, len(s.Fields))
	pk := 0
	for i, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("field %d has no name", i)
		}
		if seen[f.Name] {
			return fmt.Errorf("duplicate field %q", f.Name)
		}
		seen[f.Name] = true
		if !f.Type.Valid() {
			return fmt.Errorf("field %q has unknown type %q", f.Name, f.Type)
		}
		if f.PrimaryKey {
			pk++
		}
	}
	if pk != 1 {
		return fmt.Errorf("expected exactly one primary key field, found %d", pk)
	}
	s.Index()

	// Aliases are stored under their normalized form so lookups use the
	// same folding as headers.
	aliases := make(map[string]string, len(s.Aliases))
	for alias, target := range s.Aliases {
		if !s.HasField(target) {
			return fmt.Errorf("alias %q targets unknown field %q", alias, target)
		}
		norm := normalize.Header(alias)
		if norm == "" {
			return fmt.Errorf("alias %q normalizes to nothing", alias)
		}
		if prev, ok := aliases[norm]; ok && prev != target {
			return fmt.Errorf("alias %q is ambiguous between %q and %q", alias, prev, target)
		}
		aliases[norm] = target
	}
	s.Aliases = aliases

	nk := s.NaturalKey
	if nk.IDField == "" {
		s.NaturalKey.IDField = s.PrimaryKey()
	}
	keyFields := append([]string{s.NaturalKey.IDField}, nk.Composite...)
	if nk.SerialField != "" {
		keyFields = append(keyFields, nk.SerialField)
	}
	keyFields = append(keyFields, s.AuditKeys...)
	keyFields = append(keyFields, s.RequiredOnInsert...)
	if s.SecondaryField != "" {
		keyFields = append(keyFields, s.SecondaryField)
	}
	for _, name := range keyFields {
		if !s.HasField(name) {
			return fmt.Errorf("key field %q is not a schema field", name)
		}
	}

	if ref := s.Reference; ref != nil {
		if !s.HasField(ref.Field) {
			return fmt.Errorf("reference field %q is not a schema field", ref.Field)
		}
		if ref.Table == "" || ref.Column == "" {
			return fmt.Errorf("reference on %q needs table and column", ref.Field)
		}
		if ref.Label == "" {
			ref.Label = inflection.Singular(ref.Table)
		}
	}
	return nil
}

// Get returns the schema for a record type.
func (r *Registry) Get(recordType string) (*models.RecordSchema, error) {
	s, ok := r.schemas[strings.ToLower(strings.TrimSpace(recordType))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnknownRecordType, recordType)
	}
	return s, nil
}

// List returns every schema in declaration order.
func (r *Registry) List() []*models.RecordSchema {
	out := make([]*models.RecordSchema, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.schemas[key])
	}
	return out
}

// ColumnDescriber reads live column metadata for a table.
type ColumnDescriber interface {
	DescribeTable(ctx context.Context, table string) ([]models.TableColumn, error)
}

// Drift is one disagreement between a descriptor and the live table.
type Drift struct {
	RecordType string `json:"record_type"`
	Table      string `json:"table"`
	Field      string `json:"field,omitempty"`
	Problem    string `json:"problem"`
}

// Verify compares each descriptor with the live catalog and logs every
// mismatch as a warning. Drift never blocks startup.
func (r *Registry) Verify(ctx context.Context, describer ColumnDescriber, logger *zap.Logger) []Drift {
	logger = logger.Named("registry")
	var drifts []Drift

	for _, s := range r.List() {
		columns, err := describer.DescribeTable(ctx, s.Table)
		if err != nil {
			logger.Warn("Failed to describe table",
				zap.String("record_type", s.Key),
				zap.String("table", s.Table),
				zap.Error(err))
			continue
		}
		drifts = append(drifts, compare(s, columns)...)
	}

	for _, d := range drifts {
		logger.Warn("Record schema drift",
			zap.String("record_type", d.RecordType),
			zap.String("table", d.Table),
			zap.String("field", d.Field),
			zap.String("problem", d.Problem))
	}
	return drifts
}

func compare(s *models.RecordSchema, columns []models.TableColumn) []Drift {
	if len(columns) == 0 {
		return []Drift{{RecordType: s.Key, Table: s.Table, Problem: "table not found"}}
	}

	live := make(map[string]models.TableColumn, len(columns))
	for _, c := range columns {
		live[c.Name] = c
	}

	var drifts []Drift
	for _, f := range s.Fields {
		c, ok := live[f.Name]
		if !ok {
			drifts = append(drifts, Drift{RecordType: s.Key, Table: s.Table, Field: f.Name, Problem: "column missing"})
			continue
		}
		if c.Nullable != f.Nullable && !f.PrimaryKey {
			drifts = append(drifts, Drift{
				RecordType: s.Key, Table: s.Table, Field: f.Name,
				Problem: fmt.Sprintf("nullable is %t in table, %t in schema", c.Nullable, f.Nullable),
			})
		}
		if c.HasDefault != f.HasDefault {
			drifts = append(drifts, Drift{
				RecordType: s.Key, Table: s.Table, Field: f.Name,
				Problem: fmt.Sprintf("has_default is %t in table, %t in schema", c.HasDefault, f.HasDefault),
			})
		}
		if c.PrimaryKey != f.PrimaryKey {
			drifts = append(drifts, Drift{RecordType: s.Key, Table: s.Table, Field: f.Name, Problem: "primary key mismatch"})
		}
	}
	return drifts
}
