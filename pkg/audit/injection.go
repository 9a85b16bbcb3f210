package audit

import (
	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionCheckResult is a positive libinjection match on a cell value.
type InjectionCheckResult struct {
	Field       string
	Value       string
	Fingerprint string
}

// CheckValue runs libinjection over a coerced cell value. Only strings are
// checked; nil is returned when the value is clean or not a string.
func CheckValue(field string, value any) *InjectionCheckResult {
	s, ok := value.(string)
	if !ok || s == "" {
		return nil
	}

	isSQLi, fingerprint := libinjection.IsSQLi(s)
	if !isSQLi {
		return nil
	}
	return &InjectionCheckResult{
		Field:       field,
		Value:       s,
		Fingerprint: string(fingerprint),
	}
}
