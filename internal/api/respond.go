// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2025-2026 spike-sync contributors
// https://github.com/spikeapp/spike-sync

// Package api provides the HTTP API server for the sync engine.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/spikeapp/spike-sync/internal/pkg/errors"
	"github.com/spikeapp/spike-sync/internal/pkg/logger"
)

// errorResponse is the JSON error envelope.
type errorResponse struct {
	Error struct {
		Code    string                 `json:"code"`
		Message string                 `json:"message"`
		Details map[string]interface{} `json:"details,omitempty"`
	} `json:"error"`
}

// respond is the shared response writer every handler embeds.
type respond struct {
	logger *logger.Logger
}

// JSON writes a JSON response with the given status code.
func (h *respond) JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			h.logger.Error("failed to encode JSON response", "error", err)
		}
	}
}

// OK writes a 200 OK response.
func (h *respond) OK(w http.ResponseWriter, data any) {
	h.JSON(w, http.StatusOK, data)
}

// Created writes a 201 Created response.
func (h *respond) Created(w http.ResponseWriter, data any) {
	h.JSON(w, http.StatusCreated, data)
}

// NoContent writes a 204 No Content response.
func (h *respond) NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// BadRequest writes a 400 with a VALIDATION_FAILED envelope.
func (h *respond) BadRequest(w http.ResponseWriter, message string) {
	h.Error(w, errors.NewValidationError(message))
}

// Error maps a service error to its HTTP status and envelope. Unknown errors
// become 500 without leaking internals.
func (h *respond) Error(w http.ResponseWriter, err error) {
	status := errors.HTTPStatusCode(err)

	var resp errorResponse
	if appErr := errors.GetAppError(err); appErr != nil {
		resp.Error.Code = appErr.Code
		resp.Error.Message = appErr.Message
		resp.Error.Details = appErr.Details
	} else {
		resp.Error.Code = errors.CodeInternal
		resp.Error.Message = "internal server error"
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
		// Internal detail stays in the log.
		resp.Error.Message = "internal server error"
		resp.Error.Details = nil
	}

	h.JSON(w, status, resp)
}
