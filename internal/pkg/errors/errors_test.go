// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2025-2026 spike-sync contributors
// https://github.com/spikeapp/spike-sync

package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAppErrorMessage(t *testing.T) {
	err := New(CodeValidationFailed, "bad input")
	if got := err.Error(); got != "VALIDATION_FAILED: bad input" {
		t.Errorf("Error() = %q", got)
	}

	cause := errors.New("row not found")
	wrapped := Wrap(cause, CodeNotFound, "sync job lookup")
	if got := wrapped.Error(); got != "NOT_FOUND: sync job lookup: row not found" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(wrapped, cause) {
		t.Error("wrapped cause lost from chain")
	}
}

func TestNewf(t *testing.T) {
	err := Newf(CodeValidationFailed, "unknown job type: %s", "nope")
	if err.Message != "unknown job type: nope" {
		t.Errorf("Message = %q", err.Message)
	}
}

func TestWithDetail(t *testing.T) {
	err := NewConflictError("job status changed concurrently").
		WithDetail("current_status", "completed")
	if err.Details["current_status"] != "completed" {
		t.Errorf("Details = %v", err.Details)
	}
}

func TestDefaultHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{NewValidationError("x"), http.StatusBadRequest},
		{NewNotFoundError("sync job"), http.StatusNotFound},
		{NewConflictError("x"), http.StatusConflict},
		{NewStoreError(errors.New("x"), "x"), http.StatusInternalServerError},
		{New(CodeTimeout, "x"), http.StatusGatewayTimeout},
		{errors.New("plain"), http.StatusInternalServerError},
		{ErrNotFound, http.StatusNotFound},
		{ErrConflict, http.StatusConflict},
	}
	for _, tt := range tests {
		if got := HTTPStatusCode(tt.err); got != tt.want {
			t.Errorf("HTTPStatusCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestWithHTTPStatusOverride(t *testing.T) {
	err := New(CodeBadRequest, "x").WithHTTPStatus(http.StatusUnauthorized)
	if got := HTTPStatusCode(err); got != http.StatusUnauthorized {
		t.Errorf("HTTPStatusCode() = %d, want 401", got)
	}
}

func TestPredicates(t *testing.T) {
	if !IsNotFoundError(NewNotFoundError("sync schedule")) {
		t.Error("IsNotFoundError failed on NOT_FOUND code")
	}
	if !IsNotFoundError(fmt.Errorf("lookup: %w", ErrNotFound)) {
		t.Error("IsNotFoundError failed on wrapped sentinel")
	}
	if !IsConflictError(NewConflictError("x")) {
		t.Error("IsConflictError failed")
	}
	if !IsValidationError(NewValidationError("x")) {
		t.Error("IsValidationError failed on VALIDATION_FAILED")
	}
	if !IsValidationError(New(CodeBadRequest, "x")) {
		t.Error("IsValidationError failed on BAD_REQUEST")
	}
	if IsNotFoundError(NewConflictError("x")) {
		t.Error("IsNotFoundError matched a conflict")
	}
	if IsValidationError(errors.New("plain")) {
		t.Error("IsValidationError matched a plain error")
	}
}

func TestPredicatesSeeThroughWrapping(t *testing.T) {
	inner := NewConflictError("no-op")
	outer := fmt.Errorf("cancel job: %w", inner)
	if !IsConflictError(outer) {
		t.Error("conflict lost through fmt.Errorf wrapping")
	}
}

func TestGetAppError(t *testing.T) {
	inner := NewNotFoundError("sync job")
	if got := GetAppError(fmt.Errorf("x: %w", inner)); got != inner {
		t.Errorf("GetAppError() = %v, want original", got)
	}

	plain := errors.New("boom")
	got := GetAppError(plain)
	if got.Code != CodeInternal {
		t.Errorf("Code = %s, want INTERNAL", got.Code)
	}
	if !errors.Is(got, plain) {
		t.Error("plain cause lost")
	}
}
