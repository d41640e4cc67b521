// SPDX-FileCopyrightText: Copyright 2026 Preview Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// HealthRouter returns the healthcheck router. It bypasses every pipeline
// and never touches the database.
func HealthRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		WriteData(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return r
}
