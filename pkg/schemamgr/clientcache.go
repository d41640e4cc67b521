// SPDX-FileCopyrightText: Copyright 2026 Preview Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package schemamgr

import (
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/previewlabs/previewd/pkg/logger"
	"github.com/previewlabs/previewd/pkg/telemetry"
)

// idleSweepPeriod is how often the cache scans for idle clients.
const idleSweepPeriod = 60 * time.Second

// clientFactory builds a database client pinned to one schema.
type clientFactory func(schema string) (*sqlx.DB, error)

type clientEntry struct {
	db           *sqlx.DB
	lastAccessed time.Time
}

// ClientCache is the bounded map of schema-pinned database clients.
//
// The contract is: at most one live client per schema, at most max entries
// total. A single mutex serialises every operation; the critical section
// never performs database work (sqlx.Open is lazy), and evicted clients are
// disconnected asynchronously with errors suppressed.
type ClientCache struct {
	mu          sync.Mutex
	entries     map[string]*clientEntry
	max         int
	idleTimeout time.Duration
	factory     clientFactory
	metrics     *telemetry.Metrics
	now         func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewClientCache creates the cache and starts its idle sweeper.
func NewClientCache(max int, idleTimeout time.Duration, factory clientFactory, metrics *telemetry.Metrics) *ClientCache {
	c := &ClientCache{
		entries:     make(map[string]*clientEntry),
		max:         max,
		idleTimeout: idleTimeout,
		factory:     factory,
		metrics:     metrics,
		now:         time.Now,
		stopCh:      make(chan struct{}),
	}
	go c.idleSweepLoop()
	return c
}

// Get returns the client for a schema, creating it on demand. When the
// cache is full, the least-recently-used entry is evicted first; ties break
// deterministically by name.
func (c *ClientCache) Get(schema string) (*sqlx.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[schema]; ok {
		entry.lastAccessed = c.now()
		return entry.db, nil
	}

	if len(c.entries) >= c.max {
		c.evictOldestLocked()
	}

	db, err := c.factory(schema)
	if err != nil {
		return nil, err
	}
	c.entries[schema] = &clientEntry{db: db, lastAccessed: c.now()}
	c.metrics.ClientCacheSize.Set(float64(len(c.entries)))
	return db, nil
}

// Evict removes and disconnects the client for a schema, if cached.
func (c *ClientCache) Evict(schema string) {
	c.mu.Lock()
	entry, ok := c.entries[schema]
	if ok {
		delete(c.entries, schema)
		c.metrics.ClientCacheSize.Set(float64(len(c.entries)))
	}
	c.mu.Unlock()

	if ok {
		c.metrics.ClientCacheEvictions.WithLabelValues("drop").Inc()
		go closeQuietly(entry.db, schema)
	}
}

// Len returns the current number of cached clients.
func (c *ClientCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Schemas returns the cached schema names, unordered.
func (c *ClientCache) Schemas() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}
	return names
}

// Drain disconnects every cached client and stops the idle sweeper.
// Individual close failures are swallowed; shutdown must not wedge on a
// broken connection.
func (c *ClientCache) Drain() {
	c.stopOnce.Do(func() { close(c.stopCh) })

	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[string]*clientEntry)
	c.metrics.ClientCacheSize.Set(0)
	c.mu.Unlock()

	for schema, entry := range entries {
		closeQuietly(entry.db, schema)
	}
}

// evictOldestLocked removes the entry with the smallest last-accessed time.
// Caller holds the mutex.
func (c *ClientCache) evictOldestLocked() {
	var oldestName string
	var oldest *clientEntry
	for name, entry := range c.entries {
		if oldest == nil ||
			entry.lastAccessed.Before(oldest.lastAccessed) ||
			(entry.lastAccessed.Equal(oldest.lastAccessed) && name < oldestName) {
			oldestName, oldest = name, entry
		}
	}
	if oldest == nil {
		return
	}

	delete(c.entries, oldestName)
	c.metrics.ClientCacheEvictions.WithLabelValues("lru").Inc()
	go closeQuietly(oldest.db, oldestName)
}

func (c *ClientCache) idleSweepLoop() {
	ticker := time.NewTicker(idleSweepPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.evictIdle()
		case <-c.stopCh:
			return
		}
	}
}

// evictIdle removes every entry idle longer than the timeout.
func (c *ClientCache) evictIdle() {
	cutoff := c.now().Add(-c.idleTimeout)

	c.mu.Lock()
	var evicted []*clientEntry
	var names []string
	for name, entry := range c.entries {
		if entry.lastAccessed.Before(cutoff) {
			delete(c.entries, name)
			evicted = append(evicted, entry)
			names = append(names, name)
		}
	}
	c.metrics.ClientCacheSize.Set(float64(len(c.entries)))
	c.mu.Unlock()

	for i, entry := range evicted {
		c.metrics.ClientCacheEvictions.WithLabelValues("idle").Inc()
		go closeQuietly(entry.db, names[i])
	}
}

func closeQuietly(db *sqlx.DB, schema string) {
	if err := db.Close(); err != nil {
		logger.Debugf("ignoring close error for schema client %s: %v", schema, err)
	}
}
