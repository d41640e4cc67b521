// SPDX-FileCopyrightText: Copyright 2026 Preview Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/previewlabs/previewd/pkg/api"
	apperrors "github.com/previewlabs/previewd/pkg/errors"
)

// Routes defines the configurator-facing session API.
type Routes struct {
	service *Service
}

// Router creates the public router for the session API.
func Router(service *Service) http.Handler {
	routes := Routes{service: service}

	r := chi.NewRouter()
	r.Post("/", routes.createSession)
	r.Get("/", routes.listSessions)
	r.Get("/{token}", routes.getSession)
	r.Post("/{token}/heartbeat", routes.heartbeat)
	r.Post("/{token}/provision", routes.provisionSession)
	r.Delete("/{token}", routes.terminateSession)
	return r
}

type createSessionRequest struct {
	// Features is the set of dotted feature identifiers for the preview.
	Features []string `json:"features"`
	// Tier is the opaque pricing tier label.
	Tier string `json:"tier"`
}

type createSessionResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type heartbeatResponse struct {
	ExpiresAt time.Time `json:"expiresAt"`
}

type provisionResponse struct {
	SchemaName string `json:"schemaName"`
}

// createSession creates a new preview session for the caller's IP.
func (a *Routes) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, apperrors.NewInvalidArgumentError("invalid request body", err))
		return
	}

	view, err := a.service.CreateSession(r.Context(), req.Features, req.Tier, clientIP(r))
	if err != nil {
		api.WriteError(w, err)
		return
	}

	api.WriteData(w, http.StatusCreated, createSessionResponse{
		Token:     view.Token,
		ExpiresAt: view.ExpiresAt,
	})
}

// getSession returns the session view for a token.
func (a *Routes) getSession(w http.ResponseWriter, r *http.Request) {
	view, err := a.service.GetSession(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteData(w, http.StatusOK, view)
}

// listSessions returns every session created from the caller's IP.
func (a *Routes) listSessions(w http.ResponseWriter, r *http.Request) {
	views, err := a.service.ListSessionsForIP(r.Context(), clientIP(r))
	if err != nil {
		api.WriteError(w, err)
		return
	}
	// Tokens are secrets; a listing never echoes them back.
	for i := range views {
		views[i].Token = ""
	}
	api.WriteData(w, http.StatusOK, views)
}

// heartbeat extends the session's expiry.
func (a *Routes) heartbeat(w http.ResponseWriter, r *http.Request) {
	expiresAt, err := a.service.Heartbeat(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteData(w, http.StatusOK, heartbeatResponse{ExpiresAt: expiresAt})
}

// provisionSession materialises the per-session schema.
func (a *Routes) provisionSession(w http.ResponseWriter, r *http.Request) {
	schema, err := a.service.Provision(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteData(w, http.StatusOK, provisionResponse{SchemaName: schema})
}

// terminateSession drops the session and its schema.
func (a *Routes) terminateSession(w http.ResponseWriter, r *http.Request) {
	if err := a.service.Terminate(r.Context(), chi.URLParam(r, "token")); err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteOK(w)
}

// clientIP extracts the request origin IP. chi's RealIP middleware has
// already folded X-Forwarded-For into RemoteAddr where trusted.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
