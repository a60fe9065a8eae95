// SPDX-License-Identifier: Apache-2.0
// Package errors provides typed error handling with rich context for Sibyl.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies Sibyl errors for recovery policy and monitoring.
type ErrorCode string

const (
	// CodeInternal indicates an internal engine error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeConfig indicates a malformed or inconsistent configuration.
	// Always fatal at build time; never partially applied.
	CodeConfig ErrorCode = "CONFIG_ERROR"

	// CodeValidation indicates an input failed the declared request format.
	// Routes to the 400 branch rather than failing the invocation.
	CodeValidation ErrorCode = "VALIDATION_ERROR"

	// CodeCapability indicates a referenced skill or system capability is
	// missing, unauthorized, or raised during execution. Recoverable per
	// section presence policy.
	CodeCapability ErrorCode = "CAPABILITY_ERROR"

	// CodeSection indicates a mandatory response section could not be fully
	// rendered. Aborts the current invocation only.
	CodeSection ErrorCode = "SECTION_ERROR"

	// CodeNoTemplate indicates no response template matches the resolved
	// status and no default exists. Fatal for the invocation only.
	CodeNoTemplate ErrorCode = "NO_TEMPLATE"

	// CodeTimeout indicates an operation exceeded its time limit. Treated
	// as a capability failure by section presence policy.
	CodeTimeout ErrorCode = "TIMEOUT"
)

// SibylError is a typed error with context for observability. It implements
// the error interface and can be matched with errors.As.
type SibylError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]any
	Recoverable bool
	StatusCode  int
}

// Error implements the error interface.
func (e *SibylError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *SibylError) Unwrap() error {
	return e.Err
}

// New creates a SibylError with the given code, message and cause.
func New(code ErrorCode, msg string, cause error) *SibylError {
	return &SibylError{
		Code:       code,
		Message:    msg,
		Err:        cause,
		Context:    make(map[string]any),
		StatusCode: codeToStatusCode(code),
	}
}

// Newf creates a SibylError without a cause, formatting the message.
func Newf(code ErrorCode, format string, args ...any) *SibylError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *SibylError) WithContext(key string, value any) *SibylError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *SibylError) WithRecoverable(recoverable bool) *SibylError {
	e.Recoverable = recoverable
	return e
}

// CodeOf returns the ErrorCode carried by err, or CodeInternal for errors
// that are not SibylErrors.
func CodeOf(err error) ErrorCode {
	var se *SibylError
	if stderrors.As(err, &se) {
		return se.Code
	}
	return CodeInternal
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code ErrorCode) bool {
	var se *SibylError
	if stderrors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsRecoverable reports whether the invocation may continue past err under
// the section presence policy. Capability failures and timeouts qualify.
func IsRecoverable(err error) bool {
	switch CodeOf(err) {
	case CodeCapability, CodeTimeout:
		return true
	}
	var se *SibylError
	if stderrors.As(err, &se) {
		return se.Recoverable
	}
	return false
}

// codeToStatusCode maps error codes to HTTP-style status codes.
func codeToStatusCode(code ErrorCode) int {
	switch code {
	case CodeValidation:
		return 400
	case CodeNoTemplate:
		return 404
	case CodeTimeout:
		return 408
	default:
		return 500
	}
}
