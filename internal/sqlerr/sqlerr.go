// Package sqlerr specifically handles database driver errors.
//
// It parses cryptic error codes from the database driver and converts
// them into application errors from the errs taxonomy (e.g. converting a
// foreign key violation into an INVALID_ARGUMENT error, or a dropped
// connection into INFRASTRUCTURE).
package sqlerr

import (
	"github.com/jackc/pgx/v5/pgconn"
)

// Code is the friendly classification of a Postgres SQLSTATE.
type Code int

const (
	// Other is any SQLSTATE this package does not classify.
	Other Code = iota
	ForeignKeyViolation
	UniqueViolation
	NotNullViolation
	CheckViolation
	ConnectionFailure
)

// Severity mirrors the Postgres error severity field.
type Severity int

const (
	SeverityError Severity = iota
	SeverityFatal
	SeverityPanic
	SeverityOther
)

// Error is the normalized form of a Postgres server error. It keeps the
// original driver error for Unwrap and debugging.
type Error struct {
	Code           Code
	Severity       Severity
	DatabaseCode   string
	Message        string
	SchemaName     string
	TableName      string
	ColumnName     string
	DataTypeName   string
	ConstraintName string

	driverErr error
}

func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes the original driver error to errors.Is/As.
func (e *Error) Unwrap() error {
	return e.driverErr
}

// MapCode classifies a SQLSTATE string into a Code.
//
// SQLSTATE classes used here:
//
//	23503 foreign_key_violation
//	23505 unique_violation
//	23502 not_null_violation
//	23514 check_violation
//	08xxx connection exceptions
func MapCode(sqlstate string) Code {
	switch sqlstate {
	case "23503":
		return ForeignKeyViolation
	case "23505":
		return UniqueViolation
	case "23502":
		return NotNullViolation
	case "23514":
		return CheckViolation
	}
	if len(sqlstate) >= 2 && sqlstate[:2] == "08" {
		return ConnectionFailure
	}
	return Other
}

// MapSeverity classifies the Postgres severity string.
func MapSeverity(severity string) Severity {
	switch severity {
	case "ERROR":
		return SeverityError
	case "FATAL":
		return SeverityFatal
	case "PANIC":
		return SeverityPanic
	default:
		return SeverityOther
	}
}

// ConvertPgError converts a raw pgconn.PgError into our normalized Error.
func ConvertPgError(src *pgconn.PgError) *Error {
	return &Error{
		Code:           MapCode(src.Code),
		Severity:       MapSeverity(src.Severity),
		DatabaseCode:   src.Code,
		Message:        src.Message,
		SchemaName:     src.SchemaName,
		TableName:      src.TableName,
		ColumnName:     src.ColumnName,
		DataTypeName:   src.DataTypeName,
		ConstraintName: src.ConstraintName,
		driverErr:      src,
	}
}
