// SPDX-FileCopyrightText: Copyright 2026 Preview Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/previewlabs/previewd/pkg/api"
	"github.com/previewlabs/previewd/pkg/internalauth"
)

// InternalRoutes is the HMAC-protected surface consumed by the gateway.
type InternalRoutes struct {
	service *Service
}

// InternalRouter creates the internal router. Every route requires a valid
// HMAC signature.
func InternalRouter(service *Service, auth *internalauth.Authenticator) http.Handler {
	routes := InternalRoutes{service: service}

	r := chi.NewRouter()
	r.Use(auth.Middleware)
	r.Get("/sessions/{token}", routes.resolveSession)
	r.Get("/schemas/active", routes.activeSchemas)
	return r
}

type activeSchemasResponse struct {
	SchemaNames []string `json:"schemaNames"`
}

// resolveSession returns the schema binding for a session token.
// Not-found sessions yield 404; expired or dropped sessions yield 410 so
// the gateway can distinguish "never existed" from "gone".
func (a *InternalRoutes) resolveSession(w http.ResponseWriter, r *http.Request) {
	view, err := a.service.Resolve(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		api.WriteError(w, err)
		return
	}
	view.Token = ""
	api.WriteData(w, http.StatusOK, view)
}

// activeSchemas returns the schema names referenced by non-terminal
// sessions. The gateway's orphan sweeper joins against this set.
func (a *InternalRoutes) activeSchemas(w http.ResponseWriter, r *http.Request) {
	names, err := a.service.store.ActiveSchemaNames(r.Context())
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteData(w, http.StatusOK, activeSchemasResponse{SchemaNames: names})
}
