// SPDX-FileCopyrightText: Copyright 2026 Preview Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package schemamgr

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/previewlabs/previewd/pkg/logger"
)

// sweepStatementTimeout bounds each DDL statement inside a sweep so a hung
// drop cannot wedge the sweeper.
const sweepStatementTimeout = "30s"

type sweepState struct {
	running atomic.Bool
}

// OrphanSweep enumerates preview_* namespaces and drops any that is empty
// or no longer referenced by a non-terminal session. It is the last-resort
// net for crashes between CREATE SCHEMA and the session status update.
//
// Sweeps are serialised by a process-wide flag: a second invocation while
// one is running returns immediately with zero drops.
func (m *Manager) OrphanSweep(ctx context.Context) (int, error) {
	if !m.sweep.running.CompareAndSwap(false, true) {
		logger.Debugf("orphan sweep already running, skipping")
		return 0, nil
	}
	defer m.sweep.running.Store(false)

	schemas, err := m.ListPreviewSchemas(ctx)
	if err != nil {
		return 0, err
	}
	if len(schemas) == 0 {
		return 0, nil
	}

	// Prefer the authority join; fall back to the empty-schema heuristic
	// when the reference set cannot be fetched.
	referenced, haveRefs := m.referencedSchemas(ctx)

	conn, err := m.admin.Connx(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, "SET statement_timeout = '"+sweepStatementTimeout+"'"); err != nil {
		return 0, err
	}
	defer func() {
		if _, err := conn.ExecContext(context.WithoutCancel(ctx), "SET statement_timeout = DEFAULT"); err != nil {
			logger.Debugf("failed to reset statement timeout: %v", err)
		}
	}()

	dropped := 0
	for _, schema := range schemas {
		var tables int
		err := conn.GetContext(ctx, &tables,
			`SELECT count(*) FROM information_schema.tables WHERE table_schema = $1`, schema)
		if err != nil {
			logger.Warnf("orphan sweep failed to inspect %s: %v", schema, err)
			continue
		}

		orphan := tables == 0
		if haveRefs && !referenced[schema] {
			orphan = true
		}
		if !orphan {
			continue
		}

		quoted := pgx.Identifier{schema}.Sanitize()
		if _, err := conn.ExecContext(ctx, "DROP SCHEMA IF EXISTS "+quoted+" CASCADE"); err != nil {
			logger.Warnf("orphan sweep failed to drop %s: %v", schema, err)
			continue
		}
		m.cache.Evict(schema)
		m.metrics.OrphansDropped.Inc()
		dropped++
		logger.Infow("orphan schema dropped", "schema", schema, "tables", tables)
	}

	return dropped, nil
}

// referencedSchemas fetches the set of schema names active sessions still
// point at. The second return is false when the set is unavailable.
func (m *Manager) referencedSchemas(ctx context.Context) (map[string]bool, bool) {
	if m.active == nil {
		return nil, false
	}
	names, err := m.active.ActiveSchemaNames(ctx)
	if err != nil {
		logger.Warnf("orphan sweep could not fetch active sessions, using empty-schema heuristic only: %v", err)
		return nil, false
	}
	set := make(map[string]bool, len(names))
	for _, name := range names {
		set[name] = true
	}
	return set, true
}

// StartOrphanSweeper runs OrphanSweep on the configured interval until the
// returned stop function is called.
func (m *Manager) StartOrphanSweeper(ctx context.Context, interval time.Duration) func() {
	stopCh := make(chan struct{})
	doneCh := make(chan struct{})

	go func() {
		defer close(doneCh)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := m.OrphanSweep(ctx); err != nil {
					logger.Errorf("orphan sweep failed: %v", err)
				}
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return func() {
		close(stopCh)
		<-doneCh
	}
}
