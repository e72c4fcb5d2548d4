package errs

import "strings"

// FieldError represents a field-level validation error.
// Example:
//
//	{ "field": "pagesize", "error": "must not exceed 100" }
type FieldError struct {
	// Field is the field name/key the error relates to (e.g. "pagesize").
	Field string `json:"field"`

	// Error is the human-readable error message.
	Error string `json:"error"`
}

// ActionType is a string-based enum describing what the client should do.
type ActionType string

const (
	// ActionTypeRedirect tells the client it should redirect somewhere.
	// Value holds the URL or route.
	ActionTypeRedirect ActionType = "redirect"
)

// Action describes an optional follow-up instruction for the client.
type Action struct {
	// Type is the kind of action (e.g. "redirect").
	Type ActionType `json:"type"`

	// Message is human-readable guidance for the client/UI.
	Message string `json:"message"`

	// Value is the payload for the action (e.g. redirect URL).
	Value string `json:"value"`
}

// HTTPError is the main custom error type for API responses.
//
// It implements the error interface and is designed to be serialized
// directly to JSON by the global error handler.
type HTTPError struct {
	// Code is the machine-friendly error code (e.g. "INVALID_STATE").
	Code string `json:"code"`

	// Message is the human-friendly message.
	Message string `json:"message"`

	// Status is the HTTP status code the handler should respond with.
	Status int `json:"status"`

	// Override lets middleware decide whether the message may be shown
	// to end users verbatim.
	Override bool `json:"override"`

	// Errors holds field-level validation errors, typically for inputs.
	Errors []FieldError `json:"errors"`

	// Action is an optional client instruction (redirect, etc.).
	Action *Action `json:"action"`
}

// Error makes *HTTPError satisfy the built-in error interface.
func (e *HTTPError) Error() string {
	return e.Message
}

// Is reports whether target is also an *HTTPError. It intentionally does
// not compare Code/Status so errors.Is can be used as a type check.
func (e *HTTPError) Is(target error) bool {
	_, ok := target.(*HTTPError)
	return ok
}

// WithMessage returns a copy of this HTTPError with Message replaced.
func (e *HTTPError) WithMessage(message string) *HTTPError {
	return &HTTPError{
		Code:     e.Code,
		Message:  message,
		Status:   e.Status,
		Override: e.Override,
		Errors:   e.Errors,
		Action:   e.Action,
	}
}

// MakeUpperCaseWithUnderscores converts a string into
// UPPER_CASE_WITH_UNDERSCORES format.
//
// Example:
//
//	"Bad Request" -> "BAD_REQUEST"
//
// Used to create stable machine-readable error codes from HTTP status text.
func MakeUpperCaseWithUnderscores(str string) string {
	return strings.ToUpper(strings.ReplaceAll(str, " ", "_"))
}
