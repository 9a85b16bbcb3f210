package services

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/registrar-office/registrar-engine/pkg/models"
	"github.com/registrar-office/registrar-engine/pkg/normalize"
	"github.com/registrar-office/registrar-engine/pkg/spreadsheet"
)

// placeholderTokens are cell texts that mean "no value" for every field type.
var placeholderTokens = map[string]bool{
	"null": true,
	"nil":  true,
	"na":   true,
	"n/a":  true,
	"-":    true,
	"--":   true,
	"none": true,
}

var (
	intPrefix   = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)`)
	floatPrefix = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?`)
)

// dateLayouts are tried in order. Day-first forms precede month names; US
// month-first numeric dates are not accepted.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006/01/02",
	"02-01-2006",
	"2-1-2006",
	"02/01/2006",
	"2/1/2006",
	"02.01.2006",
	"02-Jan-2006",
	"2-Jan-2006",
	"02-Jan-06",
	"02 Jan 2006",
	"2 Jan 2006",
	"2 January 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"02-01-2006T15:04:05",
	"02/01/2006T15:04:05",
	"02/01/2006T15:04",
}

var (
	trueTokens  = map[string]bool{"1": true, "true": true, "yes": true, "y": true}
	falseTokens = map[string]bool{"0": true, "false": true, "no": true, "n": true}
)

// Coerce converts a raw cell value into the Go value stored for fieldType.
// It never fails: anything that cannot be interpreted becomes nil.
func Coerce(raw any, fieldType models.FieldType) any {
	v := spreadsheet.Unwrap(raw)
	if v == nil {
		return nil
	}
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" || placeholderTokens[strings.ToLower(s)] {
			return nil
		}
		v = s
	}

	switch fieldType {
	case models.FieldInteger:
		return toInteger(v)
	case models.FieldFloat:
		return toFloat(v)
	case models.FieldBoolean:
		return toBoolean(v)
	case models.FieldDate:
		t, ok := toTime(v)
		if !ok {
			return nil
		}
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case models.FieldDateTime:
		t, ok := toTime(v)
		if !ok {
			return nil
		}
		return t
	default:
		s := strings.TrimSpace(valueText(v))
		if s == "" {
			return nil
		}
		return s
	}
}

func toInteger(v any) any {
	switch x := v.(type) {
	case int64:
		return x
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float64:
		t := math.Trunc(x)
		// NaN fails both comparisons, so it is rejected separately.
		if math.IsNaN(t) || t < math.MinInt64 || t >= math.MaxInt64+1 {
			return nil
		}
		return int64(t)
	case bool:
		if x {
			return int64(1)
		}
		return int64(0)
	case string:
		m := intPrefix.FindString(x)
		if m == "" {
			return nil
		}
		whole, _, _ := strings.Cut(m, ".")
		if whole == "" || whole == "+" || whole == "-" {
			return int64(0)
		}
		n, err := strconv.ParseInt(whole, 10, 64)
		if err != nil {
			return nil
		}
		return n
	}
	return nil
}

func toFloat(v any) any {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
		return x
	case int64:
		return float64(x)
	case int:
		return float64(x)
	case string:
		m := floatPrefix.FindString(x)
		if m == "" {
			return nil
		}
		f, err := strconv.ParseFloat(m, 64)
		if err != nil {
			return nil
		}
		return f
	}
	return nil
}

func toBoolean(v any) any {
	switch x := v.(type) {
	case bool:
		return x
	case float64:
		return numericBool(x)
	case int64:
		return numericBool(float64(x))
	case int:
		return numericBool(float64(x))
	case string:
		s := strings.ToLower(x)
		if trueTokens[s] {
			return true
		}
		if falseTokens[s] {
			return false
		}
	}
	return nil
}

func numericBool(f float64) any {
	switch f {
	case 1:
		return true
	case 0:
		return false
	}
	return nil
}

func toTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, !x.IsZero()
	case float64:
		return serialDate(x)
	case int64:
		return serialDate(float64(x))
	case int:
		return serialDate(float64(x))
	case string:
		if t, ok := parseDate(x); ok {
			return t, true
		}
		// "2024-01-31 10:00:00" and similar: retry with the first space as the
		// date/time separator.
		if i := strings.IndexByte(x, ' '); i > 0 {
			return parseDate(x[:i] + "T" + x[i+1:])
		}
	}
	return time.Time{}, false
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func serialDate(f float64) (time.Time, bool) {
	if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, false
	}
	t, err := excelize.ExcelDateToTime(f, false)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// valueText renders a coerced or stored value as plain text. Floats use the
// shortest exact form and midnight times render as dates.
func valueText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int:
		return strconv.Itoa(x)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format("2006-01-02")
		}
		return x.UTC().Format(time.RFC3339)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// keyString is the normalized text used for natural-key and reference
// comparisons.
func keyString(v any) string {
	return normalize.Key(valueText(v))
}

// sameValue reports whether a stored value already equals a candidate value
// for a field of the given type.
func sameValue(stored, candidate any, fieldType models.FieldType) bool {
	if stored == nil || candidate == nil {
		return stored == nil && candidate == nil
	}
	switch fieldType {
	case models.FieldDate:
		st, ok1 := stored.(time.Time)
		ct, ok2 := candidate.(time.Time)
		if ok1 && ok2 {
			return st.Format("2006-01-02") == ct.Format("2006-01-02")
		}
	case models.FieldDateTime:
		st, ok1 := stored.(time.Time)
		ct, ok2 := candidate.(time.Time)
		if ok1 && ok2 {
			return st.Equal(ct)
		}
	case models.FieldInteger:
		return toInteger(stored) == toInteger(candidate)
	case models.FieldFloat:
		return toFloat(stored) == toFloat(candidate)
	case models.FieldBoolean:
		return toBoolean(stored) == toBoolean(candidate)
	}
	return valueText(stored) == valueText(candidate)
}
