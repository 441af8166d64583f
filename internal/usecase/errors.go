package usecase

import (
	"errors"
	"fmt"

	"persona-chat/internal/domain"
)

type ErrorCode string

const (
	ErrorInvalidInput      ErrorCode = "INVALID_INPUT"
	ErrorUnauthenticated   ErrorCode = "UNAUTHENTICATED"
	ErrorForbidden         ErrorCode = "FORBIDDEN"
	ErrorNotFound          ErrorCode = "NOT_FOUND"
	ErrorConflict          ErrorCode = "CONFLICT"
	ErrorRateLimited       ErrorCode = "RATE_LIMITED"
	ErrorConfigNotFound    ErrorCode = "CONFIG_NOT_FOUND"
	ErrorReplyNotPersisted ErrorCode = "REPLY_NOT_PERSISTED"
	ErrorUpstream          ErrorCode = "UPSTREAM_ERROR"
	ErrorInternal          ErrorCode = "INTERNAL_ERROR"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
	// Message is optional user-facing text.
	Message string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

func (e *Error) withMessage(msg string) *Error {
	e.Message = msg
	return e
}

// storeError maps a store failure onto an error code, falling back to
// INTERNAL_ERROR with the given reason.
func storeError(reason string, err error) *Error {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrForeignKey):
		return newError(ErrorNotFound, reason, err)
	case errors.Is(err, domain.ErrConflict):
		return newError(ErrorConflict, reason, err)
	case errors.Is(err, domain.ErrForbidden):
		return newError(ErrorForbidden, reason, err)
	default:
		return newError(ErrorInternal, reason, err)
	}
}

// CodeOf returns the code carried by err, or INTERNAL_ERROR.
func CodeOf(err error) ErrorCode {
	var ucErr *Error
	if errors.As(err, &ucErr) {
		return ucErr.Code
	}
	return ErrorInternal
}
