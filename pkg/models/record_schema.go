package models

// FieldType is the semantic type a spreadsheet cell is coerced into.
type FieldType string

const (
	FieldString   FieldType = "string"
	FieldText     FieldType = "text"
	FieldInteger  FieldType = "integer"
	FieldFloat    FieldType = "float"
	FieldBoolean  FieldType = "boolean"
	FieldDate     FieldType = "date"
	FieldDateTime FieldType = "datetime"
)

// Valid reports whether t is a known field type.
func (t FieldType) Valid() bool {
	switch t {
	case FieldString, FieldText, FieldInteger, FieldFloat, FieldBoolean, FieldDate, FieldDateTime:
		return true
	}
	return false
}

// FieldDef describes one column of a record table.
type FieldDef struct {
	Name       string    `json:"name" yaml:"name"`
	Type       FieldType `json:"type" yaml:"type"`
	Nullable   bool      `json:"nullable" yaml:"nullable"`
	PrimaryKey bool      `json:"primary_key,omitempty" yaml:"primary_key"`
	HasDefault bool      `json:"has_default,omitempty" yaml:"has_default"`
}

// NaturalKey is the per-type rule for finding an existing record to update.
// Rules are tried in order: IDField, SerialField, then Composite.
type NaturalKey struct {
	IDField     string   `json:"id_field" yaml:"id_field"`
	SerialField string   `json:"serial_field,omitempty" yaml:"serial_field"`
	Composite   []string `json:"composite,omitempty" yaml:"composite"`
}

// Reference is a cross-table link checked before inserts.
type Reference struct {
	Field  string `json:"field" yaml:"field"`
	Table  string `json:"table" yaml:"table"`
	Column string `json:"column" yaml:"column"`
	// Label names the referenced entity in rejection reasons.
	Label string `json:"label" yaml:"label"`
}

// RecordSchema is the descriptor the import engine is driven by.
type RecordSchema struct {
	Key              string            `json:"key" yaml:"key"`
	DisplayName      string            `json:"display_name" yaml:"display_name"`
	Table            string            `json:"table" yaml:"table"`
	Fields           []FieldDef        `json:"fields" yaml:"fields"`
	Aliases          map[string]string `json:"aliases,omitempty" yaml:"aliases"`
	NaturalKey       NaturalKey        `json:"natural_key" yaml:"natural_key"`
	Reference        *Reference        `json:"reference,omitempty" yaml:"reference"`
	RequiredOnInsert []string          `json:"required_on_insert,omitempty" yaml:"required_on_insert"`
	AuditKeys        []string          `json:"audit_keys,omitempty" yaml:"audit_keys"`
	SecondaryField   string            `json:"secondary_field,omitempty" yaml:"secondary_field"`
	AuditFields      []string          `json:"audit_fields,omitempty" yaml:"audit_fields"`

	fieldIndex map[string]int
}

// Index builds the name lookup table. Call once after the schema is populated.
func (s *RecordSchema) Index() {
	s.fieldIndex = make(map[string]int, len(s.Fields))
	for i, f := range s.Fields {
		s.fieldIndex[f.Name] = i
	}
}

// Field returns the definition for name.
func (s *RecordSchema) Field(name string) (FieldDef, bool) {
	if s.fieldIndex == nil {
		s.Index()
	}
	i, ok := s.fieldIndex[name]
	if !ok {
		return FieldDef{}, false
	}
	return s.Fields[i], true
}

// HasField reports whether name is a column of the schema.
func (s *RecordSchema) HasField(name string) bool {
	_, ok := s.Field(name)
	return ok
}

// PrimaryKey returns the primary key column name.
func (s *RecordSchema) PrimaryKey() string {
	for _, f := range s.Fields {
		if f.PrimaryKey {
			return f.Name
		}
	}
	return ""
}

// RequiredFields lists the columns that must be present on insert:
// non-primary-key, non-nullable columns without a default, followed by
// any extra business-rule fields.
func (s *RecordSchema) RequiredFields() []string {
	var out []string
	seen := make(map[string]bool)
	for _, f := range s.Fields {
		if f.PrimaryKey || f.Nullable || f.HasDefault {
			continue
		}
		out = append(out, f.Name)
		seen[f.Name] = true
	}
	for _, name := range s.RequiredOnInsert {
		if !seen[name] {
			out = append(out, name)
			seen[name] = true
		}
	}
	return out
}

// IsAuditField reports whether name is a managed timestamp column.
func (s *RecordSchema) IsAuditField(name string) bool {
	for _, f := range s.AuditFields {
		if f == name {
			return true
		}
	}
	return false
}

// WritableFields lists columns that may appear in a write payload.
func (s *RecordSchema) WritableFields() []string {
	out := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		if f.PrimaryKey || s.IsAuditField(f.Name) {
			continue
		}
		out = append(out, f.Name)
	}
	return out
}

// FieldNames lists every column in schema order.
func (s *RecordSchema) FieldNames() []string {
	out := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		out[i] = f.Name
	}
	return out
}

// TableColumn is live column metadata read from the data store catalog.
type TableColumn struct {
	Name       string `json:"name"`
	DataType   string `json:"data_type"`
	Nullable   bool   `json:"nullable"`
	HasDefault bool   `json:"has_default"`
	PrimaryKey bool   `json:"primary_key"`
}
