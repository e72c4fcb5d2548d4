// Package errs defines custom error types and utilities.
//
// Its purpose is to give every error that crosses a layer boundary a
// consistent structure (*HTTPError) with a stable machine-readable code,
// so clients receive meaningful, actionable, and consistent error
// messages. The batch core additionally classifies errors by Kind
// (NotFound, InvalidState, Conflict, InvalidArgument, Infrastructure)
// without caring about the HTTP mapping.
package errs
