package errs

import (
	"errors"
	"net/http"
)

// Kind is the coarse classification of an application error. The batch
// service branches on Kind; the HTTP layer only looks at Code/Status.
type Kind string

const (
	// KindNotFound means the batch or entry does not exist.
	KindNotFound Kind = "NOT_FOUND"

	// KindInvalidState means the operation is not permitted in the
	// batch's current status (e.g. mutating a deleted batch).
	KindInvalidState Kind = "INVALID_STATE"

	// KindConflict means a concurrent operation is already in flight
	// (e.g. a second process request while labels are being generated).
	KindConflict Kind = "CONFLICT"

	// KindInvalidArgument means the request payload was malformed
	// (bad pagination parameters, empty member lists, ...).
	KindInvalidArgument Kind = "INVALID_ARGUMENT"

	// KindInfrastructure means a backing store was unreachable.
	KindInfrastructure Kind = "INFRASTRUCTURE"

	// KindUnknown is returned for errors outside the taxonomy.
	KindUnknown Kind = "UNKNOWN"
)

// KindOf reports the Kind carried by err, or KindUnknown if err is not an
// *HTTPError produced by this package.
func KindOf(err error) Kind {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.Code {
		case string(KindNotFound), string(KindInvalidState), string(KindConflict),
			string(KindInvalidArgument), string(KindInfrastructure):
			return Kind(httpErr.Code)
		}
	}
	return KindUnknown
}

// NewNotFoundError creates a 404 HTTPError with code NOT_FOUND.
//
// Parameters:
//   - message: text to send to the client
//   - override: whether middleware may replace the message
func NewNotFoundError(message string, override bool) *HTTPError {
	return &HTTPError{
		Code:     string(KindNotFound),
		Message:  message,
		Status:   http.StatusNotFound,
		Override: override,
	}
}

// NewInvalidStateError creates a 422 HTTPError with code INVALID_STATE.
//
// Used when a batch exists but its status forbids the requested
// operation (deleted batches, completed batches, ...).
func NewInvalidStateError(message string) *HTTPError {
	return &HTTPError{
		Code:     string(KindInvalidState),
		Message:  message,
		Status:   http.StatusUnprocessableEntity,
		Override: true,
	}
}

// NewConflictError creates a 409 HTTPError with code CONFLICT.
func NewConflictError(message string) *HTTPError {
	return &HTTPError{
		Code:     string(KindConflict),
		Message:  message,
		Status:   http.StatusConflict,
		Override: true,
	}
}

// NewInvalidArgumentError creates a 400 HTTPError with code
// INVALID_ARGUMENT.
//
// This supports extra payload:
//   - errors: optional slice of field errors (validation errors)
func NewInvalidArgumentError(message string, errors []FieldError) *HTTPError {
	return &HTTPError{
		Code:     string(KindInvalidArgument),
		Message:  message,
		Status:   http.StatusBadRequest,
		Override: true,
		Errors:   errors,
	}
}

// NewBadRequestError creates a 400 Bad Request HTTPError with an optional
// custom code, field errors, and client action. Kept for callers that need
// codes outside the batch taxonomy (validation plumbing, sqlerr).
func NewBadRequestError(message string, override bool, code *string, errors []FieldError, action *Action) *HTTPError {
	formattedCode := MakeUpperCaseWithUnderscores(http.StatusText(http.StatusBadRequest))
	if code != nil {
		formattedCode = *code
	}

	return &HTTPError{
		Code:     formattedCode,
		Message:  message,
		Status:   http.StatusBadRequest,
		Override: override,
		Errors:   errors,
		Action:   action,
	}
}

// NewUnauthorizedError creates a 401 Unauthorized HTTPError.
func NewUnauthorizedError(message string, override bool) *HTTPError {
	return &HTTPError{
		Code:     MakeUpperCaseWithUnderscores(http.StatusText(http.StatusUnauthorized)),
		Message:  message,
		Status:   http.StatusUnauthorized,
		Override: override,
	}
}

// NewForbiddenError creates a 403 Forbidden HTTPError.
func NewForbiddenError(message string, override bool) *HTTPError {
	return &HTTPError{
		Code:     MakeUpperCaseWithUnderscores(http.StatusText(http.StatusForbidden)),
		Message:  message,
		Status:   http.StatusForbidden,
		Override: override,
	}
}

// NewInfrastructureError creates a 500 HTTPError with code INFRASTRUCTURE.
//
// The message is the generic status text, never the underlying driver
// error. The real error belongs in logs, not in API responses.
func NewInfrastructureError() *HTTPError {
	return &HTTPError{
		Code:     string(KindInfrastructure),
		Message:  http.StatusText(http.StatusInternalServerError),
		Status:   http.StatusInternalServerError,
		Override: false,
	}
}

// NewInternalServerError creates a generic 500 Internal Server Error.
func NewInternalServerError() *HTTPError {
	return &HTTPError{
		Code:     MakeUpperCaseWithUnderscores(http.StatusText(http.StatusInternalServerError)),
		Message:  http.StatusText(http.StatusInternalServerError),
		Status:   http.StatusInternalServerError,
		Override: false,
	}
}

// ValidationError converts a generic validation error into a 400
// INVALID_ARGUMENT HTTPError.
func ValidationError(err error) *HTTPError {
	return NewInvalidArgumentError("Validation failed: "+err.Error(), nil)
}
