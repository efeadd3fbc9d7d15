package database

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	apperrors "github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/errors"
)

// PostgreSQL SQLSTATE codes the repositories care about.
const (
	CodeUniqueViolation      = "23505"
	CodeForeignKeyViolation  = "23503"
	CodeCheckViolation       = "23514"
	CodeSerializationFailure = "40001"
	CodeDeadlockDetected     = "40P01"
	CodeLockNotAvailable     = "55P03"
)

// PgErrorCode returns the SQLSTATE of err, or "" when err is not a server error.
func PgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// ConstraintName returns the name of the violated constraint, if any.
func ConstraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	return PgErrorCode(err) == CodeUniqueViolation
}

// IsForeignKeyViolation reports whether err is a foreign key violation.
func IsForeignKeyViolation(err error) bool {
	return PgErrorCode(err) == CodeForeignKeyViolation
}

// ClassifyError maps lock and serialization failures to a ConcurrencyConflict
// and check violations to InvalidInput. Errors that are already typed, and all
// other errors, are returned unchanged.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}

	switch PgErrorCode(err) {
	case CodeSerializationFailure, CodeDeadlockDetected, CodeLockNotAvailable:
		return apperrors.ConcurrencyConflict("row lock could not be acquired, retry the operation", err)
	case CodeCheckViolation:
		ie := apperrors.InvalidInput("constraint " + ConstraintName(err) + " violated")
		ie.Err = errors.Join(apperrors.ErrInvalidInput, err)
		return ie
	}
	return err
}
