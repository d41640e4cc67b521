// SPDX-FileCopyrightText: Copyright 2026 Preview Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package schemamgr provisions and destroys per-session preview schemas in
// the backing PostgreSQL store, and maintains the bounded cache of
// schema-pinned database clients.
package schemamgr

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver
	"github.com/jmoiron/sqlx"

	"github.com/previewlabs/previewd/pkg/config"
	apperrors "github.com/previewlabs/previewd/pkg/errors"
	"github.com/previewlabs/previewd/pkg/logger"
	"github.com/previewlabs/previewd/pkg/schemaname"
	"github.com/previewlabs/previewd/pkg/telemetry"
)

// compensateTimeout bounds the detached drop that cleans up after a failed
// provision.
const compensateTimeout = 30 * time.Second

// ActiveSchemaSource reports which schema names are still referenced by
// non-terminal sessions. The orphan sweeper joins against this set.
type ActiveSchemaSource interface {
	ActiveSchemaNames(ctx context.Context) ([]string, error)
}

// Manager owns every DDL operation against preview schemas. The admin
// client is the only handle allowed to issue DDL; per-schema clients are
// pinned to their namespace and never cross it.
type Manager struct {
	admin     *sqlx.DB
	cache     *ClientCache
	bundle    string
	cfg       *config.Config
	metrics   *telemetry.Metrics
	active    ActiveSchemaSource
	startedAt time.Time

	sweep sweepState
}

// NewManager wires the schema manager. The DDL bundle must already be
// loaded; active may be nil, in which case the orphan sweeper falls back to
// the empty-schema heuristic.
func NewManager(
	admin *sqlx.DB,
	bundle string,
	cfg *config.Config,
	metrics *telemetry.Metrics,
	active ActiveSchemaSource,
) *Manager {
	m := &Manager{
		admin:     admin,
		bundle:    bundle,
		cfg:       cfg,
		metrics:   metrics,
		active:    active,
		startedAt: time.Now(),
	}
	m.cache = NewClientCache(cfg.MaxCachedClients, cfg.SchemaIdleTimeout, m.newSchemaClient, metrics)
	return m
}

// Provision materialises the schema for a session token: create the
// namespace, replay the precompiled DDL bundle inside it, and seed the
// selected feature modules. Any failure after CREATE is compensated by a
// cascading drop, so no partial schema ever survives.
func (m *Manager) Provision(ctx context.Context, token string, features []string, _ string) (string, error) {
	schema, err := schemaname.FromToken(token)
	if err != nil {
		return "", err
	}

	if err := m.checkCapacity(ctx); err != nil {
		return "", err
	}

	if err := m.createAndSeed(ctx, schema, features); err != nil {
		m.compensate(ctx, schema)
		return "", err
	}

	logger.Infow("schema provisioned", "schema", schema, "features", len(features))
	return schema, nil
}

// createAndSeed runs the DDL sequence on one dedicated connection so the
// search_path change never leaks into the admin pool.
func (m *Manager) createAndSeed(ctx context.Context, schema string, features []string) error {
	// The derivation already validated the name; revalidate anyway since
	// this is the last stop before raw DDL.
	if err := schemaname.Validate(schema); err != nil {
		return err
	}
	quoted := pgx.Identifier{schema}.Sanitize()

	conn, err := m.admin.Connx(ctx)
	if err != nil {
		return apperrors.NewInternalError("failed to acquire admin connection", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+quoted); err != nil {
		return apperrors.NewInternalError("failed to create schema", err)
	}
	if _, err := conn.ExecContext(ctx, "SET search_path TO "+quoted); err != nil {
		return apperrors.NewInternalError("failed to set search path", err)
	}
	if _, err := conn.ExecContext(ctx, m.bundle); err != nil {
		return apperrors.NewInternalError("failed to replay DDL bundle", err)
	}
	for _, statement := range seedStatements(features) {
		if _, err := conn.ExecContext(ctx, statement); err != nil {
			return apperrors.NewInternalError("failed to seed preview data", err)
		}
	}
	if _, err := conn.ExecContext(ctx, "SET search_path TO public"); err != nil {
		return apperrors.NewInternalError("failed to restore search path", err)
	}
	return nil
}

// compensate removes whatever the failed provision left behind. The failure
// that brought us here may be the request context's own cancellation, so the
// drop runs detached from it under its own deadline. Errors are logged only;
// the caller propagates the original failure, and the orphan sweeper is the
// last-resort net if this drop also fails.
func (m *Manager) compensate(ctx context.Context, schema string) {
	dropCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
	defer cancel()
	if err := m.dropSchema(dropCtx, schema); err != nil {
		logger.Errorf("compensating drop failed for %s (orphan sweep will retry): %v", schema, err)
	}
	m.cache.Evict(schema)
}

// Drop destroys a schema and evicts its cached client.
func (m *Manager) Drop(ctx context.Context, schema string) error {
	if err := schemaname.Validate(schema); err != nil {
		return err
	}
	if err := m.dropSchema(ctx, schema); err != nil {
		return apperrors.NewInternalError("failed to drop schema", err)
	}
	m.cache.Evict(schema)
	logger.Infow("schema dropped", "schema", schema)
	return nil
}

func (m *Manager) dropSchema(ctx context.Context, schema string) error {
	if err := schemaname.Validate(schema); err != nil {
		return err
	}
	quoted := pgx.Identifier{schema}.Sanitize()
	_, err := m.admin.ExecContext(ctx, "DROP SCHEMA IF EXISTS "+quoted+" CASCADE")
	return err
}

// GetClientForSchema returns the pooled client pinned to a schema. Safe for
// concurrent use; the cache guarantees at most one client per schema.
func (m *Manager) GetClientForSchema(schema string) (*sqlx.DB, error) {
	if err := schemaname.Validate(schema); err != nil {
		return nil, err
	}
	return m.cache.Get(schema)
}

// InvalidateClient drops the cached client for a schema, if any.
func (m *Manager) InvalidateClient(schema string) {
	m.cache.Evict(schema)
}

// ListPreviewSchemas enumerates the preview_* namespaces in the backing
// store.
func (m *Manager) ListPreviewSchemas(ctx context.Context) ([]string, error) {
	var names []string
	err := m.admin.SelectContext(ctx, &names,
		`SELECT schema_name FROM information_schema.schemata
		 WHERE schema_name LIKE 'preview\_%' ORDER BY schema_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list preview schemas: %w", err)
	}

	// Defensive filter: information_schema can never return an invalid
	// derived name, but nothing downstream should trust that.
	filtered := names[:0]
	for _, name := range names {
		if schemaname.IsPreviewSchema(name) {
			filtered = append(filtered, name)
		}
	}
	return filtered, nil
}

// Shutdown drains the client cache and disconnects the admin client last.
func (m *Manager) Shutdown() {
	m.cache.Drain()
	if err := m.admin.Close(); err != nil {
		logger.Warnf("failed to close admin client: %v", err)
	}
}

// newSchemaClient opens a client whose connections default to the given
// schema, bounded by the per-client connection limit.
func (m *Manager) newSchemaClient(schema string) (*sqlx.DB, error) {
	if err := schemaname.Validate(schema); err != nil {
		return nil, err
	}

	dsn, err := schemaDSN(m.cfg.DatabaseURL, schema)
	if err != nil {
		return nil, err
	}

	// sqlx.Open does not dial; the first query does, so the critical
	// section in the cache stays free of database work.
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to open schema client", err)
	}
	db.SetMaxOpenConns(m.cfg.ConnectionLimitPerClient)
	db.SetMaxIdleConns(m.cfg.ConnectionLimitPerClient)
	return db, nil
}

// schemaDSN pins a connection string to a schema via the search_path
// runtime parameter. Both URL and key=value DSN forms are supported.
func schemaDSN(base, schema string) (string, error) {
	if err := schemaname.Validate(schema); err != nil {
		return "", err
	}

	if strings.HasPrefix(base, "postgres://") || strings.HasPrefix(base, "postgresql://") {
		u, err := url.Parse(base)
		if err != nil {
			return "", apperrors.NewInternalError("invalid database url", err)
		}
		q := u.Query()
		q.Set("search_path", schema)
		u.RawQuery = q.Encode()
		return u.String(), nil
	}

	return base + " search_path=" + schema, nil
}
