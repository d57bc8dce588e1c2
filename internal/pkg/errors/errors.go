// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2025-2026 spike-sync contributors
// https://github.com/spikeapp/spike-sync

// Package errors provides the application error taxonomy: code-tagged errors
// that map cleanly onto HTTP statuses and onto the orchestration semantics
// (validation rejected synchronously, not-found with no state change,
// conflict as a no-op, transient store errors propagated).
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	CodeBadRequest       = "BAD_REQUEST"
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeNotFound         = "NOT_FOUND"
	CodeConflict         = "CONFLICT"
	CodeDatabaseError    = "DATABASE_ERROR"
	CodeTimeout          = "TIMEOUT"
	CodeInternal         = "INTERNAL"
)

// Sentinel errors for quick comparisons with errors.Is.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// AppError is an error with an application code, an optional wrapped cause,
// an HTTP status, and optional structured details.
type AppError struct {
	Code       string
	Message    string
	Err        error
	HTTPStatus int
	Details    map[string]interface{}
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail attaches a single key/value detail.
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithHTTPStatus overrides the HTTP status for this error.
func (e *AppError) WithHTTPStatus(status int) *AppError {
	e.HTTPStatus = status
	return e
}

// New creates a new AppError with the given code and message.
func New(code, message string) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: defaultStatus(code)}
}

// Newf creates a new AppError with a formatted message.
func Newf(code, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with a code and message.
func Wrap(err error, code, message string) *AppError {
	return &AppError{Code: code, Message: message, Err: err, HTTPStatus: defaultStatus(code)}
}

// Wrapf wraps an existing error with a formatted message.
func Wrapf(err error, code, format string, args ...interface{}) *AppError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// Taxonomy constructors

// NewValidationError signals input rejected synchronously; nothing persisted.
func NewValidationError(message string) *AppError {
	return New(CodeValidationFailed, message)
}

// NewNotFoundError signals an unknown resource id; no state change.
func NewNotFoundError(resource string) *AppError {
	return New(CodeNotFound, resource+" not found")
}

// NewConflictError signals a disallowed transition; the operation was a
// no-op and the caller should re-read current state.
func NewConflictError(message string) *AppError {
	return New(CodeConflict, message)
}

// NewStoreError signals a transient persistence failure, propagated to the
// caller without auto-retry.
func NewStoreError(err error, message string) *AppError {
	return Wrap(err, CodeDatabaseError, message)
}

func defaultStatus(code string) int {
	switch code {
	case CodeBadRequest, CodeValidationFailed:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// GetAppError extracts an *AppError from err's chain, or wraps a plain error
// as CodeInternal.
func GetAppError(err error) *AppError {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae
	}
	return Wrap(err, CodeInternal, "internal error")
}

// HTTPStatusCode returns the HTTP status for any error.
func HTTPStatusCode(err error) int {
	var ae *AppError
	if errors.As(err, &ae) {
		if ae.HTTPStatus != 0 {
			return ae.HTTPStatus
		}
		return defaultStatus(ae.Code)
	}
	if errors.Is(err, ErrNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, ErrConflict) {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func hasCode(err error, code string) bool {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code == code
	}
	return false
}

// IsNotFoundError reports whether err represents an unknown resource.
func IsNotFoundError(err error) bool {
	return hasCode(err, CodeNotFound) || errors.Is(err, ErrNotFound)
}

// IsConflictError reports whether err represents a disallowed transition.
func IsConflictError(err error) bool {
	return hasCode(err, CodeConflict) || errors.Is(err, ErrConflict)
}

// IsValidationError reports whether err represents rejected input.
func IsValidationError(err error) bool {
	return hasCode(err, CodeValidationFailed) || hasCode(err, CodeBadRequest)
}

// Is delegates to the standard library for sentinel comparisons.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As delegates to the standard library.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
