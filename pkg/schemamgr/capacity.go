// SPDX-FileCopyrightText: Copyright 2026 Preview Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package schemamgr

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	apperrors "github.com/previewlabs/previewd/pkg/errors"
	"github.com/previewlabs/previewd/pkg/logger"
)

// CapacityInfo is the capacity probe result advertised to the authority.
type CapacityInfo struct {
	ActiveSchemas int     `json:"activeSchemas"`
	CachedClients int     `json:"cachedClients"`
	HeapMB        float64 `json:"heapMB"`
	RSSMB         float64 `json:"rssMB"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
}

// Capacity computes the current probe. The authoritative schema count comes
// from the backing store; the cache count is only the fallback when that
// query fails.
func (m *Manager) Capacity(ctx context.Context) CapacityInfo {
	info := CapacityInfo{
		CachedClients: m.cache.Len(),
		UptimeSeconds: time.Since(m.startedAt).Seconds(),
	}

	schemas, err := m.ListPreviewSchemas(ctx)
	if err != nil {
		logger.Warnf("capacity probe falling back to cache count: %v", err)
		info.ActiveSchemas = info.CachedClients
	} else {
		info.ActiveSchemas = len(schemas)
	}
	m.metrics.ActiveSchemas.Set(float64(info.ActiveSchemas))

	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	info.HeapMB = float64(stats.HeapAlloc) / (1 << 20)

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mem, err := proc.MemoryInfo(); err == nil {
			info.RSSMB = float64(mem.RSS) / (1 << 20)
		}
	}

	return info
}

// checkCapacity fails a provision attempt when the schema cap or the heap
// soft ceiling is exceeded.
func (m *Manager) checkCapacity(ctx context.Context) error {
	info := m.Capacity(ctx)

	if info.ActiveSchemas >= m.cfg.MaxConcurrentSchemas {
		return apperrors.NewCapacityExhaustedError(
			fmt.Sprintf("schema capacity exhausted (%d of %d live)",
				info.ActiveSchemas, m.cfg.MaxConcurrentSchemas), nil)
	}
	if info.HeapMB > float64(m.cfg.HeapSoftCeilingMB) {
		return apperrors.NewCapacityExhaustedError(
			fmt.Sprintf("heap above soft ceiling (%.0f MB > %d MB)",
				info.HeapMB, m.cfg.HeapSoftCeilingMB), nil)
	}
	return nil
}
