// Package normalize holds the string folding rules shared by header
// mapping, natural-key lookup and duplicate detection.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Header folds a spreadsheet header or schema field name for comparison:
// diacritics stripped, lowercased, everything but letters and digits removed.
func Header(s string) string {
	s = stripDiacritics(strings.ToLower(s))
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// keySpace is the whitespace folded by Key. KeySQL uses the same set so
// stored values and spreadsheet cells fold identically.
const keySpace = " \t\n\v\f\r\u00a0"

// Key folds a natural-key value: lowercased, runs of keySpace collapsed to
// one space, then trimmed. It must agree with KeySQL.
func Key(s string) string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return strings.ContainsRune(keySpace, r)
	})
	return strings.Join(fields, " ")
}

// KeySQL returns the SQL expression equivalent of Key for a column reference.
// Migration 000003 indexes this expression on enrollments.enrollment_no.
func KeySQL(column string) string {
	return `lower(btrim(regexp_replace(` + column + `::text, '[ \t\n\v\f\r\u00a0]+', ' ', 'g')))`
}

// stripDiacritics decomposes to NFD and drops combining marks.
func stripDiacritics(s string) string {
	decomposed := norm.NFD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
