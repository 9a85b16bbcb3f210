package models

import "fmt"

// Record is one row of a record table keyed by column name.
type Record map[string]any

// ID returns the integer primary key stored under field, or 0 when absent.
func (r Record) ID(field string) int64 {
	switch v := r[field].(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

// String returns the value under field rendered as text, "" for nil.
func (r Record) String(field string) string {
	v, ok := r[field]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
