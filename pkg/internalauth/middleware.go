// SPDX-FileCopyrightText: Copyright 2026 Preview Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package internalauth

import (
	"bytes"
	"io"
	"net/http"

	"github.com/previewlabs/previewd/pkg/api"
	apperrors "github.com/previewlabs/previewd/pkg/errors"
	"github.com/previewlabs/previewd/pkg/logger"
)

// maxInternalBody caps the request bodies accepted on internal routes.
// Internal payloads are tiny; anything larger is hostile or a bug.
const maxInternalBody = 1 << 20

// Middleware returns a chi-compatible middleware that verifies the HMAC
// headers of every request passing through it. The body is consumed for
// verification and restored for downstream handlers.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxInternalBody))
		if err != nil {
			api.WriteError(w, apperrors.NewUnauthorizedError("unreadable request body", err))
			return
		}
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))

		timestamp := r.Header.Get(TimestampHeader)
		signature := r.Header.Get(SignatureHeader)
		if timestamp == "" || signature == "" {
			api.WriteError(w, apperrors.NewUnauthorizedError("missing internal auth headers", nil))
			return
		}

		if err := a.Verify(r.Method, r.URL.Path, body, timestamp, signature); err != nil {
			logger.Warnw("rejected internal request",
				"method", r.Method, "path", r.URL.Path, "reason", err.Error())
			api.WriteError(w, err)
			return
		}

		next.ServeHTTP(w, r)
	})
}
