package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/godamri/helix-activity/http/response"
)

// Error carries a response code next to the driver error it was mapped from.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// MapError classifies driver errors into response codes. Unknown errors map to
// response.ErrSystem.
func MapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
		return &Error{Code: response.ErrNotFound, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Code: response.ErrGatewayTimeout, Message: "query timeout", Err: err}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return &Error{Code: response.ErrAlreadyExists, Message: pgErr.Detail, Err: err}
		case "23503": // foreign_key_violation
			return &Error{Code: response.ErrConflict, Message: "referenced record not found", Err: err}
		case "23514": // check_violation
			return &Error{Code: response.ErrValidation, Message: pgErr.Message, Err: err}
		case "40001": // serialization_failure
			return &Error{Code: response.ErrVersionMismatch, Message: "retry transaction", Err: err}
		case "57014": // query_canceled
			return &Error{Code: response.ErrGatewayTimeout, Message: "query timeout", Err: err}
		}
	}

	return &Error{Code: response.ErrSystem, Err: err}
}

// Code returns the response code of a mapped error, or response.ErrSystem.
func Code(err error) string {
	var dbErr *Error
	if errors.As(err, &dbErr) {
		return dbErr.Code
	}
	return response.ErrSystem
}

func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows)
}
