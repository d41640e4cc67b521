// SPDX-FileCopyrightText: Copyright 2026 Preview Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"net/http"

	"github.com/jmoiron/sqlx"

	"github.com/previewlabs/previewd/pkg/api"
	apperrors "github.com/previewlabs/previewd/pkg/errors"
	"github.com/previewlabs/previewd/pkg/sandbox"
)

// SessionHeader carries the preview session token on tenant requests.
const SessionHeader = "X-Preview-Session"

// ClientBinder hands out schema-pinned database clients. Satisfied by the
// schema manager's client cache; stubbed in tests.
type ClientBinder interface {
	GetClientForSchema(schema string) (*sqlx.DB, error)
}

type contextKey int

const (
	sessionContextKey contextKey = iota
	clientContextKey
	providersContextKey
)

// SessionFromContext returns the resolved session attached by the pipeline.
func SessionFromContext(ctx context.Context) *SessionInfo {
	info, _ := ctx.Value(sessionContextKey).(*SessionInfo)
	return info
}

// ClientFromContext returns the schema-pinned client attached by the
// pipeline.
func ClientFromContext(ctx context.Context) *sqlx.DB {
	db, _ := ctx.Value(clientContextKey).(*sqlx.DB)
	return db
}

// ProvidersFromContext returns the sandbox providers attached by the
// pipeline. Feature handlers must route every side effect through them.
func ProvidersFromContext(ctx context.Context) *sandbox.Providers {
	p, _ := ctx.Value(providersContextKey).(*sandbox.Providers)
	return p
}

// Pipeline is the tenant request pipeline: session resolution, readiness
// gate, client binding, sandbox injection, feature gate. Requests to
// /health and /internal/* bypass it at the router level.
type Pipeline struct {
	resolver  *Resolver
	clients   ClientBinder
	providers *sandbox.Providers
}

// NewPipeline wires the tenant pipeline.
func NewPipeline(resolver *Resolver, clients ClientBinder, providers *sandbox.Providers) *Pipeline {
	return &Pipeline{resolver: resolver, clients: clients, providers: providers}
}

// Middleware enforces the pipeline on every wrapped route.
func (p *Pipeline) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(SessionHeader)
		if token == "" {
			api.WriteError(w, apperrors.NewUnauthorizedError("missing "+SessionHeader+" header", nil))
			return
		}

		info, err := p.resolver.Resolve(r.Context(), token)
		if err != nil {
			// An unknown token is an authentication failure on the tenant
			// surface, not a missing resource.
			if apperrors.IsNotFound(err) {
				err = apperrors.NewUnauthorizedError("invalid session token", nil)
			}
			api.WriteError(w, err)
			return
		}

		if !info.Ready() {
			api.WriteError(w, apperrors.NewSchemaNotReadyError(
				"session schema is "+info.SchemaStatus+", not READY", nil))
			return
		}

		db, err := p.clients.GetClientForSchema(info.SchemaName)
		if err != nil {
			api.WriteError(w, err)
			return
		}

		// The feature gate refusal is indistinguishable from a missing
		// route, so disabled features never leak.
		if !featureAllowed(info.Features, requiredFeature(r.URL.Path)) {
			api.WriteError(w, apperrors.NewNotFoundError("not found", nil))
			return
		}

		ctx := context.WithValue(r.Context(), sessionContextKey, info)
		ctx = context.WithValue(ctx, clientContextKey, db)
		ctx = context.WithValue(ctx, providersContextKey, p.providers)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
