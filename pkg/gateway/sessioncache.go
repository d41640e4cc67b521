// SPDX-FileCopyrightText: Copyright 2026 Preview Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/previewlabs/previewd/pkg/telemetry"
)

// SessionSource resolves a session token to its projection. Satisfied by
// AuthorityClient; stubbed in tests.
type SessionSource interface {
	Resolve(ctx context.Context, token string) (*SessionInfo, error)
}

type cachedSession struct {
	info     *SessionInfo
	cachedAt time.Time
}

// SessionCache is the gateway's read-through cache of session projections.
// Writes are last-writer-wins; a stale write losing a race is benign because
// the TTL bounds staleness.
type SessionCache struct {
	mu      sync.RWMutex
	entries map[string]cachedSession
	ttl     time.Duration
	now     func() time.Time
}

// NewSessionCache creates an empty cache with the given TTL.
func NewSessionCache(ttl time.Duration) *SessionCache {
	return &SessionCache{
		entries: make(map[string]cachedSession),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached projection if present and fresh. Expired entries
// are removed passively on access.
func (c *SessionCache) Get(token string) (*SessionInfo, bool) {
	c.mu.RLock()
	entry, ok := c.entries[token]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.cachedAt) > c.ttl {
		c.Invalidate(token)
		return nil, false
	}
	return entry.info, true
}

// Put stores a projection.
func (c *SessionCache) Put(token string, info *SessionInfo) {
	c.mu.Lock()
	c.entries[token] = cachedSession{info: info, cachedAt: c.now()}
	c.mu.Unlock()
}

// Invalidate removes a token's entry, if any.
func (c *SessionCache) Invalidate(token string) {
	c.mu.Lock()
	delete(c.entries, token)
	c.mu.Unlock()
}

// Len returns the current entry count.
func (c *SessionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Resolver is the read-through composition of the session cache and the
// authority client. Concurrent misses for the same token collapse into one
// upstream call.
type Resolver struct {
	cache   *SessionCache
	source  SessionSource
	group   singleflight.Group
	metrics *telemetry.Metrics
}

// NewResolver wires a resolver over the given source.
func NewResolver(cache *SessionCache, source SessionSource, metrics *telemetry.Metrics) *Resolver {
	return &Resolver{cache: cache, source: source, metrics: metrics}
}

// Resolve returns the session projection for a token, consulting the cache
// first. Only successful resolutions are cached; errors are never cached so
// a recovering authority is observed immediately.
func (r *Resolver) Resolve(ctx context.Context, token string) (*SessionInfo, error) {
	if info, ok := r.cache.Get(token); ok {
		r.metrics.SessionCacheLookups.WithLabelValues("hit").Inc()
		return info, nil
	}
	r.metrics.SessionCacheLookups.WithLabelValues("miss").Inc()

	result, err, _ := r.group.Do(token, func() (any, error) {
		info, err := r.source.Resolve(ctx, token)
		if err != nil {
			return nil, err
		}
		r.cache.Put(token, info)
		return info, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*SessionInfo), nil
}

// Invalidate evicts the cached projection for a token.
func (r *Resolver) Invalidate(token string) {
	r.cache.Invalidate(token)
}
