// SPDX-FileCopyrightText: Copyright 2026 Preview Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package schemamgr

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/previewlabs/previewd/pkg/telemetry"
)

// fakeFactory counts client constructions per schema.
type fakeFactory struct {
	mu    sync.Mutex
	built map[string]int
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{built: make(map[string]int)}
}

func (f *fakeFactory) make(schema string) (*sqlx.DB, error) {
	f.mu.Lock()
	f.built[schema]++
	f.mu.Unlock()

	db, _, err := sqlmock.New()
	if err != nil {
		return nil, err
	}
	return sqlx.NewDb(db, "sqlmock"), nil
}

func (f *fakeFactory) builds(schema string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.built[schema]
}

func newTestCache(t *testing.T, max int) (*ClientCache, *fakeFactory) {
	t.Helper()
	factory := newFakeFactory()
	cache := NewClientCache(max, 30*time.Minute, factory.make, telemetry.NewMetrics("cache_test"))
	t.Cleanup(cache.Drain)
	return cache, factory
}

func TestCacheReturnsSameClientPerSchema(t *testing.T) {
	t.Parallel()

	cache, factory := newTestCache(t, 3)

	first, err := cache.Get("preview_a")
	require.NoError(t, err)
	second, err := cache.Get("preview_a")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, factory.builds("preview_a"))
}

func TestCacheLRUEviction(t *testing.T) {
	t.Parallel()

	cache, _ := newTestCache(t, 3)

	// Deterministic clock so access order is unambiguous.
	clock := time.Now()
	cache.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	for _, schema := range []string{"preview_a", "preview_b", "preview_c", "preview_a", "preview_d"} {
		_, err := cache.Get(schema)
		require.NoError(t, err)
	}

	schemas := cache.Schemas()
	sort.Strings(schemas)
	assert.Equal(t, []string{"preview_a", "preview_c", "preview_d"}, schemas)
	assert.Equal(t, 3, cache.Len())
}

func TestCacheNeverExceedsCapacity(t *testing.T) {
	t.Parallel()

	cache, _ := newTestCache(t, 2)

	for _, schema := range []string{"preview_a", "preview_b", "preview_c", "preview_d"} {
		_, err := cache.Get(schema)
		require.NoError(t, err)
		assert.LessOrEqual(t, cache.Len(), 2)
	}
}

func TestCacheEvict(t *testing.T) {
	t.Parallel()

	cache, factory := newTestCache(t, 3)

	_, err := cache.Get("preview_a")
	require.NoError(t, err)
	cache.Evict("preview_a")
	assert.Equal(t, 0, cache.Len())

	// Next access builds a fresh client.
	_, err = cache.Get("preview_a")
	require.NoError(t, err)
	assert.Equal(t, 2, factory.builds("preview_a"))

	// Evicting an absent schema is a no-op.
	cache.Evict("preview_unknown")
}

func TestCacheIdleEviction(t *testing.T) {
	t.Parallel()

	cache, _ := newTestCache(t, 5)

	_, err := cache.Get("preview_idle")
	require.NoError(t, err)
	_, err = cache.Get("preview_busy")
	require.NoError(t, err)

	// Move the clock past the idle timeout, then touch only one entry.
	base := time.Now()
	cache.now = func() time.Time { return base.Add(31 * time.Minute) }
	_, err = cache.Get("preview_busy")
	require.NoError(t, err)

	cache.evictIdle()

	assert.Equal(t, []string{"preview_busy"}, cache.Schemas())
}

func TestCacheDrain(t *testing.T) {
	t.Parallel()

	cache, _ := newTestCache(t, 3)
	_, err := cache.Get("preview_a")
	require.NoError(t, err)
	_, err = cache.Get("preview_b")
	require.NoError(t, err)

	cache.Drain()
	assert.Equal(t, 0, cache.Len())

	// Drain is idempotent.
	cache.Drain()
}

func TestCacheConcurrentAccessSingleClient(t *testing.T) {
	t.Parallel()

	cache, factory := newTestCache(t, 4)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.Get("preview_shared")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, factory.builds("preview_shared"))
	assert.Equal(t, 1, cache.Len())
}
