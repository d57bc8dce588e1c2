// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2025-2026 spike-sync contributors
// https://github.com/spikeapp/spike-sync

package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/spikeapp/spike-sync/internal/pkg/errors"
)

// Tenant and user identity arrive as headers set by the fronting auth proxy.
// The engine trusts them; authentication itself is an external collaborator.
const (
	headerTenantID = "X-Tenant-ID"
	headerUserID   = "X-User-ID"
)

type contextKey string

const (
	ctxKeyTenantID contextKey = "tenant_id"
	ctxKeyUserID   contextKey = "user_id"
)

// RequireTenant rejects requests without a tenant identity and stores the
// tenant and user ids in the request context.
func RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := r.Header.Get(headerTenantID)
		if tenantID == "" {
			writeIdentityError(w, "missing "+headerTenantID+" header")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyTenantID, tenantID)
		if userID := r.Header.Get(headerUserID); userID != "" {
			ctx = context.WithValue(ctx, ctxKeyUserID, userID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TenantID returns the tenant id stored by RequireTenant.
func TenantID(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyTenantID).(string)
	return v
}

// UserID returns the user id stored by RequireTenant, or "" when the caller
// did not identify a user (worker traffic).
func UserID(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyUserID).(string)
	return v
}

func writeIdentityError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)

	var resp errorResponse
	resp.Error.Code = errors.CodeBadRequest
	resp.Error.Message = message
	_ = json.NewEncoder(w).Encode(resp)
}
