// state.go: Cross-module shared state and a small TTL cache
//
// Copyright (c) 2025 ModShell contributors
// SPDX-License-Identifier: MPL-2.0

package modshell

import (
	"strings"
	"sync"
	"time"

	"github.com/agilira/go-timecache"
)

// SharedState is a key/value blackboard modules use to exchange small
// pieces of state without depending on each other directly. Keys are
// case-insensitive. Values are stored as-is; callers own any copying.
type SharedState struct {
	mu     sync.RWMutex
	values map[string]any

	watchMu  sync.Mutex
	watchers map[Subscription]func(key string, value any)
	nextSub  Subscription

	logger Logger
}

// NewSharedState creates an empty shared state container.
func NewSharedState(logger Logger) *SharedState {
	if logger == nil {
		logger = DefaultLogger()
	}
	return &SharedState{
		values:   make(map[string]any),
		watchers: make(map[Subscription]func(string, any)),
		logger:   logger,
	}
}

// Set stores a value and notifies watchers asynchronously.
func (ss *SharedState) Set(key string, value any) {
	k := strings.ToLower(key)

	ss.mu.Lock()
	ss.values[k] = value
	ss.mu.Unlock()

	ss.notify(k, value)
}

// Get fetches a value.
func (ss *SharedState) Get(key string) (any, bool) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	value, ok := ss.values[strings.ToLower(key)]
	return value, ok
}

// Delete removes a key and notifies watchers with a nil value.
func (ss *SharedState) Delete(key string) {
	k := strings.ToLower(key)

	ss.mu.Lock()
	_, existed := ss.values[k]
	delete(ss.values, k)
	ss.mu.Unlock()

	if existed {
		ss.notify(k, nil)
	}
}

// Keys returns all stored keys.
func (ss *SharedState) Keys() []string {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	out := make([]string, 0, len(ss.values))
	for key := range ss.values {
		out = append(out, key)
	}
	return out
}

// Watch registers a callback invoked after every Set or Delete. The
// callback runs on its own goroutine and must not assume ordering across
// rapid successive changes.
func (ss *SharedState) Watch(fn func(key string, value any)) Subscription {
	ss.watchMu.Lock()
	defer ss.watchMu.Unlock()

	ss.nextSub++
	sub := ss.nextSub
	ss.watchers[sub] = fn
	return sub
}

// Unwatch removes a watcher.
func (ss *SharedState) Unwatch(sub Subscription) {
	ss.watchMu.Lock()
	defer ss.watchMu.Unlock()
	delete(ss.watchers, sub)
}

func (ss *SharedState) notify(key string, value any) {
	ss.watchMu.Lock()
	fns := make([]func(string, any), 0, len(ss.watchers))
	for _, fn := range ss.watchers {
		fns = append(fns, fn)
	}
	ss.watchMu.Unlock()

	for _, fn := range fns {
		go func(fn func(string, any)) {
			defer withStackRecover(ss.logger)()
			fn(key, value)
		}(fn)
	}
}

// cacheEntry pairs a value with its expiry instant.
type cacheEntry struct {
	value     any
	expiresAt time.Time
}

// TTLCache is a small expiring cache for values modules derive
// repeatedly (rendered fragments, lookup results). Expiry checks use the
// cached clock, so entries may survive a few milliseconds past their
// nominal TTL. That tolerance is fine for cache semantics.
type TTLCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
}

// NewTTLCache creates a cache with the given default TTL. A zero TTL
// defaults to one minute.
func NewTTLCache(ttl time.Duration) *TTLCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &TTLCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
	}
}

// Set stores a value with the default TTL.
func (c *TTLCache) Set(key string, value any) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores a value with an explicit TTL.
func (c *TTLCache) SetWithTTL(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{
		value:     value,
		expiresAt: timecache.CachedTime().Add(ttl),
	}
}

// Get fetches a live value. Expired entries are dropped lazily.
func (c *TTLCache) Get(key string) (any, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if timecache.CachedTime().After(entry.expiresAt) {
		c.mu.Lock()
		if current, still := c.entries[key]; still && current.expiresAt.Equal(entry.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return entry.value, true
}

// Delete removes a key.
func (c *TTLCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Purge drops every expired entry and returns how many were removed.
func (c *TTLCache) Purge() int {
	now := timecache.CachedTime()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries, including any not yet purged.
func (c *TTLCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
