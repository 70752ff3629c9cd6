// metadata.go: Durable per-module metadata cache with lifecycle state machine
//
// The cache is the source of truth that makes reload possible after a
// module's sandbox has been torn down: ReloadModule resolves the module's
// binary path from here when no load context remains. Records are never
// dropped implicitly; only Remove deletes one.
//
// Copyright (c) 2025 ModShell contributors
// SPDX-License-Identifier: MPL-2.0

package modshell

import (
	"strings"
	"sync"

	"github.com/agilira/go-timecache"
)

// MetadataCache is a concurrent key-value store of ModuleMetadata records,
// keyed by module name (case-insensitive). Mutations take the exclusive
// lock; reads take the shared lock (single-writer/multi-reader).
type MetadataCache struct {
	mu      sync.RWMutex
	records map[string]*ModuleMetadata
	logger  Logger
}

// NewMetadataCache creates an empty metadata cache.
func NewMetadataCache(logger Logger) *MetadataCache {
	if logger == nil {
		logger = DefaultLogger()
	}
	return &MetadataCache{
		records: make(map[string]*ModuleMetadata),
		logger:  logger,
	}
}

func metadataKey(name string) string { return strings.ToLower(name) }

// Store inserts or replaces the record for meta.Name.
func (mc *MetadataCache) Store(meta ModuleMetadata) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	stored := meta
	mc.records[metadataKey(meta.Name)] = &stored
	mc.logger.Debug("Module metadata stored",
		"module", meta.Name,
		"state", meta.State.String(),
		"path", meta.AssemblyPath)
}

// Get returns a copy of the record for name, and whether it exists.
// Returning a copy keeps callers from mutating cache state outside the
// lock discipline.
func (mc *MetadataCache) Get(name string) (ModuleMetadata, bool) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	rec, ok := mc.records[metadataKey(name)]
	if !ok {
		return ModuleMetadata{}, false
	}
	return *rec, true
}

// Has reports whether a record exists for name.
func (mc *MetadataCache) Has(name string) bool {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	_, ok := mc.records[metadataKey(name)]
	return ok
}

// UpdateState transitions the record for name into state, recording the
// error message (empty clears it). Transitioning into StateUnloaded stamps
// the unloaded timestamp; transitioning into StateLoaded stamps the loaded
// timestamp. Unknown names are a no-op with a warning; state updates are
// advisory, not record-creating.
func (mc *MetadataCache) UpdateState(name string, state ModuleState, errMsg string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	rec, ok := mc.records[metadataKey(name)]
	if !ok {
		mc.logger.Warn("State update for unknown module metadata", "module", name, "state", state.String())
		return
	}

	rec.State = state
	rec.LastError = errMsg
	switch state {
	case StateUnloaded:
		rec.UnloadedAt = timecache.CachedTime()
	case StateLoaded:
		rec.LoadedAt = timecache.CachedTime()
	}

	mc.logger.Debug("Module state updated",
		"module", name,
		"state", state.String(),
		"error", errMsg)
}

// Remove deletes the record for name. This is the only way a record
// leaves the cache; unload alone never removes metadata.
func (mc *MetadataCache) Remove(name string) bool {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	key := metadataKey(name)
	if _, ok := mc.records[key]; !ok {
		return false
	}
	delete(mc.records, key)
	mc.logger.Info("Module metadata removed", "module", name)
	return true
}

// Names returns the names of all cached modules.
func (mc *MetadataCache) Names() []string {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	names := make([]string, 0, len(mc.records))
	for _, rec := range mc.records {
		names = append(names, rec.Name)
	}
	return names
}

// ByState returns copies of all records currently in state.
func (mc *MetadataCache) ByState(state ModuleState) []ModuleMetadata {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	matches := make([]ModuleMetadata, 0)
	for _, rec := range mc.records {
		if rec.State == state {
			matches = append(matches, *rec)
		}
	}
	return matches
}

// SetEnabled flips the persisted enabled flag on the cached record.
func (mc *MetadataCache) SetEnabled(name string, enabled bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if rec, ok := mc.records[metadataKey(name)]; ok {
		rec.Enabled = enabled
	}
}
