// Package apperr defines the stable error discriminants surfaced by the
// HTTP layer. Handlers match on Code to pick a status; Detail carries the
// human-readable explanation.
package apperr

import (
	"errors"
	"fmt"
)

// Code identifies a failure class. Codes are wire-stable.
type Code string

const (
	CodeUserNotFound        Code = "user_not_found"
	CodeBlockNotFound       Code = "block_not_found"
	CodeVersionNotFound     Code = "version_not_found"
	CodeDiffNotFound        Code = "diff_not_found"
	CodeFileNotFound        Code = "file_not_found"
	CodeTaskNotFound        Code = "task_not_found"
	CodeRunNotFound         Code = "run_not_found"
	CodeInvalidPath         Code = "invalid_path"
	CodeFileTooLarge        Code = "file_too_large"
	CodeInvalidInput        Code = "invalid_input"
	CodeDuplicateEdit       Code = "duplicate_edit"
	CodeProposalConflict    Code = "proposal_conflict"
	CodeProposalStale       Code = "proposal_stale"
	CodeProviderUnavailable Code = "provider_unavailable"
	CodeInternal            Code = "internal"
)

// Error is a typed application error.
type Error struct {
	Code   Code
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a typed error with a formatted detail message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// Wrap attaches a typed code to an underlying error.
func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Detail: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the discriminant from err, or CodeInternal for untyped
// errors.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
