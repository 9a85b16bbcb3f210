package apperrors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrInvalidInput           = errors.New("invalid input")
	ErrUnknownRecordType      = errors.New("unknown record type")
	ErrSessionNotFound        = errors.New("upload session not found")
	ErrUnreadableFile         = errors.New("unreadable spreadsheet")
	ErrSheetNotFound          = errors.New("sheet not found")
	ErrNoHeadersMatched       = errors.New("no headers matched the record schema")
	ErrMissingRequiredColumns = errors.New("missing required columns")
)

// ConstraintKind identifies which integrity rule the store rejected.
type ConstraintKind string

const (
	ConstraintUnique     ConstraintKind = "unique"
	ConstraintNotNull    ConstraintKind = "not_null"
	ConstraintForeignKey ConstraintKind = "foreign_key"
	ConstraintCheck      ConstraintKind = "check"
	ConstraintOther      ConstraintKind = "integrity"
)

// ConstraintError is an integrity violation raised by the data store
// (SQLSTATE class 23).
type ConstraintError struct {
	Kind       ConstraintKind
	Constraint string
	Column     string
	Detail     string
}

func (e *ConstraintError) Error() string {
	switch e.Kind {
	case ConstraintUnique:
		if e.Detail != "" {
			return "duplicate value violates unique constraint: " + e.Detail
		}
		return fmt.Sprintf("duplicate value violates unique constraint %q", e.Constraint)
	case ConstraintNotNull:
		return fmt.Sprintf("missing value for required column %q", e.Column)
	case ConstraintForeignKey:
		if e.Detail != "" {
			return "referenced record does not exist: " + e.Detail
		}
		return fmt.Sprintf("referenced record does not exist (%s)", e.Constraint)
	case ConstraintCheck:
		return fmt.Sprintf("value rejected by check constraint %q", e.Constraint)
	default:
		return "integrity constraint violated: " + e.Detail
	}
}

// ValidationError is a data error raised by the data store (SQLSTATE class 22),
// such as a value too long for its column or an out-of-range number.
type ValidationError struct {
	Code   string
	Detail string
}

func (e *ValidationError) Error() string {
	return "invalid value: " + e.Detail
}

// FromStore converts a driver error into a ConstraintError or ValidationError
// when it carries a recognised SQLSTATE. Other errors are returned unchanged.
func FromStore(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch {
	case strings.HasPrefix(pgErr.Code, "23"):
		ce := &ConstraintError{
			Constraint: pgErr.ConstraintName,
			Column:     pgErr.ColumnName,
			Detail:     pgErr.Detail,
		}
		switch pgErr.Code {
		case "23505":
			ce.Kind = ConstraintUnique
		case "23502":
			ce.Kind = ConstraintNotNull
		case "23503":
			ce.Kind = ConstraintForeignKey
		case "23514":
			ce.Kind = ConstraintCheck
		default:
			ce.Kind = ConstraintOther
			if ce.Detail == "" {
				ce.Detail = pgErr.Message
			}
		}
		return ce
	case strings.HasPrefix(pgErr.Code, "22"):
		return &ValidationError{Code: pgErr.Code, Detail: pgErr.Message}
	}
	return err
}
