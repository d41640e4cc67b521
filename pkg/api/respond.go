// SPDX-FileCopyrightText: Copyright 2026 Preview Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package api contains the shared HTTP response envelope used by both the
// authority and the gateway surfaces.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	apperrors "github.com/previewlabs/previewd/pkg/errors"
	"github.com/previewlabs/previewd/pkg/logger"
)

// Envelope is the wire format for every API response.
type Envelope struct {
	Success bool           `json:"success"`
	Data    any            `json:"data,omitempty"`
	Error   *EnvelopeError `json:"error,omitempty"`
}

// EnvelopeError carries a stable machine-readable code alongside a
// human-readable message.
type EnvelopeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// WriteData writes a success envelope with the given payload.
func WriteData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Envelope{Success: true, Data: data})
}

// WriteOK writes the bare `{success:true}` envelope used by side-effect-only
// operations.
func WriteOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, Envelope{Success: true})
}

// WriteError maps an application error to its HTTP status and stable code.
// Internal error details are logged, never sent to the client.
func WriteError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatus(err)
	code := apperrors.Code(err)

	message := err.Error()
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	if status >= http.StatusInternalServerError {
		logger.Errorw("request failed", "code", code, "error", err)
		message = "internal error"
	}

	writeJSON(w, status, Envelope{
		Success: false,
		Error:   &EnvelopeError{Code: code, Message: message},
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Errorf("failed to encode response body: %v", err)
	}
}
