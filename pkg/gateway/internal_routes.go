// SPDX-FileCopyrightText: Copyright 2026 Preview Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/previewlabs/previewd/pkg/api"
	apperrors "github.com/previewlabs/previewd/pkg/errors"
	"github.com/previewlabs/previewd/pkg/internalauth"
	"github.com/previewlabs/previewd/pkg/sandbox"
	"github.com/previewlabs/previewd/pkg/schemamgr"
	"github.com/previewlabs/previewd/pkg/telemetry"
)

// SchemaAPI is the slice of the schema manager the internal surface
// exposes. Declared here so the routes can be tested against a stub.
type SchemaAPI interface {
	Provision(ctx context.Context, token string, features []string, tier string) (string, error)
	Drop(ctx context.Context, schema string) error
	Capacity(ctx context.Context) schemamgr.CapacityInfo
}

// InternalRoutes is the HMAC-protected surface consumed by the authority.
type InternalRoutes struct {
	schemas  SchemaAPI
	resolver *Resolver
	email    *sandbox.MockEmailProvider
	metrics  *telemetry.Metrics
}

// InternalRouter creates the internal router. Every route requires a valid
// HMAC signature.
func InternalRouter(
	schemas SchemaAPI,
	resolver *Resolver,
	email *sandbox.MockEmailProvider,
	auth *internalauth.Authenticator,
	metrics *telemetry.Metrics,
) http.Handler {
	routes := InternalRoutes{schemas: schemas, resolver: resolver, email: email, metrics: metrics}

	r := chi.NewRouter()
	r.Use(auth.Middleware)
	r.Post("/schemas/provision", routes.provisionSchema)
	r.Delete("/schemas/{schemaName}", routes.dropSchema)
	r.Get("/schemas/capacity", routes.capacity)
	r.Post("/sessions/invalidate", routes.invalidateSession)
	r.Get("/emails/{sessionToken}", routes.getEmails)
	return r
}

type provisionRequest struct {
	SessionToken string   `json:"sessionToken"`
	Features     []string `json:"features"`
	Tier         string   `json:"tier"`
}

type provisionResponse struct {
	SchemaName string `json:"schemaName"`
}

// provisionSchema materialises the schema for a claimed session.
func (g *InternalRoutes) provisionSchema(w http.ResponseWriter, r *http.Request) {
	var req provisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, apperrors.NewInvalidArgumentError("malformed provision request", err))
		return
	}
	if req.SessionToken == "" {
		api.WriteError(w, apperrors.NewInvalidArgumentError("sessionToken is required", nil))
		return
	}

	start := time.Now()
	schemaName, err := g.schemas.Provision(r.Context(), req.SessionToken, req.Features, req.Tier)
	g.metrics.ProvisionDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		g.metrics.ProvisionTotal.WithLabelValues(provisionOutcome(err)).Inc()
		api.WriteError(w, err)
		return
	}

	g.metrics.ProvisionTotal.WithLabelValues("provisioned").Inc()
	api.WriteData(w, http.StatusOK, provisionResponse{SchemaName: schemaName})
}

func provisionOutcome(err error) string {
	switch apperrors.TypeOf(err) {
	case apperrors.ErrCapacityExhausted:
		return "capacity_exhausted"
	case apperrors.ErrAlreadyClaimed:
		return "already_claimed"
	default:
		return "failed"
	}
}

// dropSchema destroys a schema by name.
func (g *InternalRoutes) dropSchema(w http.ResponseWriter, r *http.Request) {
	if err := g.schemas.Drop(r.Context(), chi.URLParam(r, "schemaName")); err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteOK(w)
}

// capacity returns the current capacity probe.
func (g *InternalRoutes) capacity(w http.ResponseWriter, r *http.Request) {
	api.WriteData(w, http.StatusOK, g.schemas.Capacity(r.Context()))
}

type invalidateRequest struct {
	SessionToken string `json:"sessionToken"`
}

// invalidateSession evicts the cached projection of a session. Called by
// the authority on expiry or manual termination.
func (g *InternalRoutes) invalidateSession(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, apperrors.NewInvalidArgumentError("malformed invalidate request", err))
		return
	}
	if req.SessionToken == "" {
		api.WriteError(w, apperrors.NewInvalidArgumentError("sessionToken is required", nil))
		return
	}

	g.resolver.Invalidate(req.SessionToken)
	api.WriteOK(w)
}

type emailsResponse struct {
	Emails []sandbox.RecordedEmail `json:"emails"`
}

// getEmails returns the mock emails recorded for a session.
func (g *InternalRoutes) getEmails(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "sessionToken")
	api.WriteData(w, http.StatusOK, emailsResponse{Emails: g.email.GetEmails(token)})
}
