package errors

import (
	"fmt"
	"net/http"

	"github.com/cockroachdb/errors"
)

// Error kinds shared by every module. Callers match with the Is* helpers.
var (
	ErrNotFound        = new(ErrCodeNotFound, "resource not found")
	ErrInvalidState    = new(ErrCodeInvalidState, "invalid state transition")
	ErrInvalidArgument = new(ErrCodeInvalidArgument, "invalid argument")
	ErrConflict        = new(ErrCodeConflict, "resource already exists")
	ErrVersionConflict = new(ErrCodeVersionConflict, "version conflict")
	ErrDatabase        = new(ErrCodeDatabase, "database error")
	ErrSystem          = new(ErrCodeSystemError, "system error")

	statusCodeMap = map[error]int{
		ErrNotFound:        http.StatusNotFound,
		ErrInvalidState:    http.StatusConflict,
		ErrInvalidArgument: http.StatusBadRequest,
		ErrConflict:        http.StatusConflict,
		ErrVersionConflict: http.StatusConflict,
		ErrDatabase:        http.StatusInternalServerError,
		ErrSystem:          http.StatusInternalServerError,
	}
)

const (
	ErrCodeNotFound        = "not_found"
	ErrCodeInvalidState    = "invalid_state"
	ErrCodeInvalidArgument = "invalid_argument"
	ErrCodeConflict        = "conflict"
	ErrCodeVersionConflict = "version_conflict"
	ErrCodeDatabase        = "database_error"
	ErrCodeSystemError     = "system_error"
)

// InternalError is a typed error kind.
type InternalError struct {
	Code    string
	Message string
	Op      string
	Err     error
}

func (e *InternalError) Error() string {
	if e.Err == nil {
		return e.DisplayError()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Err.Error())
}

func (e *InternalError) DisplayError() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// Is matches kinds by code so wrapped copies still compare equal.
func (e *InternalError) Is(target error) bool {
	if target == nil {
		return false
	}

	t, ok := target.(*InternalError)
	if !ok {
		return errors.Is(e.Err, target)
	}

	return e.Code == t.Code
}

func new(code string, message string) *InternalError {
	return &InternalError{
		Code:    code,
		Message: message,
	}
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

func Is(err, reference error) bool {
	return errors.Is(err, reference)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrInvalidArgument)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// Code returns the machine readable kind of err, or system_error.
func Code(err error) string {
	for kind := range statusCodeMap {
		if errors.Is(err, kind) {
			return kind.(*InternalError).Code
		}
	}
	return ErrCodeSystemError
}

func HTTPStatusFromErr(err error) int {
	for e, status := range statusCodeMap {
		if errors.Is(err, e) {
			return status
		}
	}
	return http.StatusInternalServerError
}
