// SPDX-FileCopyrightText: Copyright 2026 Preview Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/previewlabs/previewd/pkg/api"
	apperrors "github.com/previewlabs/previewd/pkg/errors"
	"github.com/previewlabs/previewd/pkg/sandbox"
	"github.com/previewlabs/previewd/pkg/telemetry"
)

// stubBinder satisfies ClientBinder with a sqlmock-backed client.
type stubBinder struct {
	db      *sqlx.DB
	err     error
	schemas []string
}

func (b *stubBinder) GetClientForSchema(schema string) (*sqlx.DB, error) {
	b.schemas = append(b.schemas, schema)
	if b.err != nil {
		return nil, b.err
	}
	return b.db, nil
}

func newStubBinder(t *testing.T) *stubBinder {
	t.Helper()
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &stubBinder{db: sqlx.NewDb(db, "sqlmock")}
}

func newPipelineFixture(t *testing.T, source SessionSource, next http.Handler) (http.Handler, *stubBinder) {
	t.Helper()
	binder := newStubBinder(t)
	resolver := NewResolver(NewSessionCache(time.Minute), source, telemetry.NewMetrics("pipeline_test"))
	pipeline := NewPipeline(resolver, binder, sandbox.NewMockProviders())
	return pipeline.Middleware(next), binder
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) api.Envelope {
	t.Helper()
	var env api.Envelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	return env
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestPipelineRejectsMissingHeader(t *testing.T) {
	t.Parallel()

	source := &stubSource{fn: func(context.Context, string) (*SessionInfo, error) {
		t.Fatal("resolver must not be called without a session header")
		return nil, nil
	}}
	handler, _ := newPipelineFixture(t, source, okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	env := decodeEnvelope(t, rec)
	require.NotNil(t, env.Error)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)
}

func TestPipelineRejectsNotReadySession(t *testing.T) {
	t.Parallel()

	source := &stubSource{fn: func(context.Context, string) (*SessionInfo, error) {
		info := readySession("preview_a")
		info.SchemaStatus = "PROVISIONING"
		return info, nil
	}}
	handler, binder := newPipelineFixture(t, source, okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil)
	req.Header.Set(SessionHeader, "tok")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeEnvelope(t, rec)
	require.NotNil(t, env.Error)
	assert.Equal(t, "SCHEMA_NOT_READY", env.Error.Code)
	assert.Empty(t, binder.schemas)
}

func TestPipelineFeatureGateLooksLikeMissingRoute(t *testing.T) {
	t.Parallel()

	source := &stubSource{fn: func(context.Context, string) (*SessionInfo, error) {
		return readySession("preview_a"), nil // features: ecommerce only
	}}
	handler, binder := newPipelineFixture(t, source, okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/booking/services", nil)
	req.Header.Set(SessionHeader, "tok")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	env := decodeEnvelope(t, rec)
	require.NotNil(t, env.Error)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
	assert.Equal(t, "not found", env.Error.Message)

	// The client was bound before the gate fired; the refusal still reads
	// like an unknown route.
	assert.Equal(t, []string{"preview_a"}, binder.schemas)
}

func TestPipelinePopulatesContext(t *testing.T) {
	t.Parallel()

	source := &stubSource{fn: func(context.Context, string) (*SessionInfo, error) {
		return readySession("preview_a"), nil
	}}

	var seen struct {
		session   *SessionInfo
		db        *sqlx.DB
		providers *sandbox.Providers
	}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.session = SessionFromContext(r.Context())
		seen.db = ClientFromContext(r.Context())
		seen.providers = ProvidersFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler, binder := newPipelineFixture(t, source, next)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ecommerce/products", nil)
	req.Header.Set(SessionHeader, "tok")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen.session)
	assert.Equal(t, "preview_a", seen.session.SchemaName)
	assert.Same(t, binder.db, seen.db)
	require.NotNil(t, seen.providers)
	assert.NotNil(t, seen.providers.Email)
}

func TestPipelineUnknownTokenIsUnauthorized(t *testing.T) {
	t.Parallel()

	source := &stubSource{fn: func(context.Context, string) (*SessionInfo, error) {
		return nil, apperrors.NewNotFoundError("session not found", nil)
	}}
	handler, _ := newPipelineFixture(t, source, okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil)
	req.Header.Set(SessionHeader, "tok")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	env := decodeEnvelope(t, rec)
	require.NotNil(t, env.Error)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)
}

func TestPipelinePropagatesResolverErrors(t *testing.T) {
	t.Parallel()

	source := &stubSource{fn: func(context.Context, string) (*SessionInfo, error) {
		return nil, apperrors.NewSessionExpiredError("session expired", nil)
	}}
	handler, _ := newPipelineFixture(t, source, okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil)
	req.Header.Set(SessionHeader, "tok")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusGone, rec.Code)
	env := decodeEnvelope(t, rec)
	require.NotNil(t, env.Error)
	assert.Equal(t, "SESSION_EXPIRED", env.Error.Code)
}
