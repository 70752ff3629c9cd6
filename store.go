// store.go: Persistence for module records and navigation entries
//
// Copyright (c) 2025 ModShell contributors
// SPDX-License-Identifier: MPL-2.0

package modshell

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/agilira/go-timecache"
)

// ModuleRecord is the persisted row for one module: the descriptor
// fields an administrator can change at runtime, most importantly the
// enabled flag, survive host restarts through the store.
type ModuleRecord struct {
	Name          string         `json:"name"`
	DisplayName   string         `json:"display_name,omitempty"`
	Description   string         `json:"description,omitempty"`
	AssemblyFile  string         `json:"assembly_file"`
	Version       string         `json:"version,omitempty"`
	Author        string         `json:"author,omitempty"`
	Icon          string         `json:"icon,omitempty"`
	Category      string         `json:"category,omitempty"`
	Enabled       bool           `json:"enabled"`
	IsCore        bool           `json:"is_core,omitempty"`
	LoadOrder     int            `json:"load_order,omitempty"`
	RequiredRole  string         `json:"required_role,omitempty"`
	Configuration map[string]any `json:"configuration,omitempty"`
	CreatedAt     time.Time      `json:"created_at,omitempty"`
	UpdatedAt     time.Time      `json:"updated_at,omitempty"`
}

// NavigationRecord is a persisted navigation entry with its owning
// module. ParentID links child entries under a parent menu item.
type NavigationRecord struct {
	NavigationItem
	Module string `json:"module"`
}

// ModuleStore persists module records and navigation entries.
type ModuleStore interface {
	UpsertModule(ctx context.Context, record ModuleRecord) error
	GetModule(ctx context.Context, name string) (ModuleRecord, bool, error)
	ListModules(ctx context.Context) ([]ModuleRecord, error)
	SetModuleEnabled(ctx context.Context, name string, enabled bool) error
	DeleteModule(ctx context.Context, name string) error

	ReplaceNavigation(ctx context.Context, module string, items []NavigationItem) error
	ListNavigation(ctx context.Context) ([]NavigationRecord, error)
}

// storeDocument is the on-disk layout of the file store.
type storeDocument struct {
	Modules    []ModuleRecord     `json:"modules"`
	Navigation []NavigationRecord `json:"navigation,omitempty"`
}

// FileModuleStore keeps everything in one JSON document, rewritten
// atomically (temp file plus rename) after every mutation. Suitable for
// the single-host deployments this shell targets; swap in a different
// ModuleStore implementation for anything bigger.
type FileModuleStore struct {
	mu     sync.Mutex
	path   string
	doc    storeDocument
	logger Logger
}

// OpenFileModuleStore loads (or creates) the JSON store at path.
func OpenFileModuleStore(path string, logger Logger) (*FileModuleStore, error) {
	if logger == nil {
		logger = DefaultLogger()
	}
	store := &FileModuleStore{path: path, logger: logger}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, NewStoreError("reading store file", err)
		}
		return store, nil
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &store.doc); err != nil {
			return nil, NewStoreError("parsing store file", err)
		}
	}
	logger.Debug("Module store opened",
		"path", path,
		"modules", len(store.doc.Modules))
	return store, nil
}

// saveLocked writes the document atomically. Caller holds mu.
func (fs *FileModuleStore) saveLocked() error {
	data, err := json.MarshalIndent(&fs.doc, "", "  ")
	if err != nil {
		return NewStoreError("encoding store document", err)
	}
	dir := filepath.Dir(fs.path)
	tmp, err := os.CreateTemp(dir, ".modstore-*")
	if err != nil {
		return NewStoreError("creating temp store file", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return NewStoreError("writing store file", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return NewStoreError("closing store file", err)
	}
	if err := os.Rename(tmpName, fs.path); err != nil {
		_ = os.Remove(tmpName)
		return NewStoreError("replacing store file", err)
	}
	return nil
}

func (fs *FileModuleStore) findLocked(name string) int {
	for i := range fs.doc.Modules {
		if strings.EqualFold(fs.doc.Modules[i].Name, name) {
			return i
		}
	}
	return -1
}

// UpsertModule inserts or updates a record, stamping timestamps.
func (fs *FileModuleStore) UpsertModule(_ context.Context, record ModuleRecord) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	now := timecache.CachedTime()
	record.UpdatedAt = now
	if i := fs.findLocked(record.Name); i >= 0 {
		record.CreatedAt = fs.doc.Modules[i].CreatedAt
		fs.doc.Modules[i] = record
	} else {
		record.CreatedAt = now
		fs.doc.Modules = append(fs.doc.Modules, record)
	}
	return fs.saveLocked()
}

// GetModule fetches one record by name.
func (fs *FileModuleStore) GetModule(_ context.Context, name string) (ModuleRecord, bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if i := fs.findLocked(name); i >= 0 {
		return fs.doc.Modules[i], true, nil
	}
	return ModuleRecord{}, false, nil
}

// ListModules returns all records.
func (fs *FileModuleStore) ListModules(_ context.Context) ([]ModuleRecord, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	out := make([]ModuleRecord, len(fs.doc.Modules))
	copy(out, fs.doc.Modules)
	return out, nil
}

// SetModuleEnabled flips the persisted enabled flag. Unknown modules are
// a no-op so disabling a binary that vanished never fails.
func (fs *FileModuleStore) SetModuleEnabled(_ context.Context, name string, enabled bool) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	i := fs.findLocked(name)
	if i < 0 {
		fs.logger.Warn("Enabled flag change for unknown module", "module", name)
		return nil
	}
	fs.doc.Modules[i].Enabled = enabled
	fs.doc.Modules[i].UpdatedAt = timecache.CachedTime()
	return fs.saveLocked()
}

// DeleteModule removes a record and its navigation entries.
func (fs *FileModuleStore) DeleteModule(_ context.Context, name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	i := fs.findLocked(name)
	if i < 0 {
		return nil
	}
	fs.doc.Modules = append(fs.doc.Modules[:i], fs.doc.Modules[i+1:]...)
	fs.removeNavigationLocked(name)
	return fs.saveLocked()
}

func (fs *FileModuleStore) removeNavigationLocked(module string) {
	kept := fs.doc.Navigation[:0]
	for _, nav := range fs.doc.Navigation {
		if !strings.EqualFold(nav.Module, module) {
			kept = append(kept, nav)
		}
	}
	fs.doc.Navigation = kept
}

// ReplaceNavigation swaps a module's navigation entries wholesale.
func (fs *FileModuleStore) ReplaceNavigation(_ context.Context, module string, items []NavigationItem) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.removeNavigationLocked(module)
	for _, item := range items {
		fs.doc.Navigation = append(fs.doc.Navigation, NavigationRecord{
			NavigationItem: item,
			Module:         module,
		})
	}
	return fs.saveLocked()
}

// ListNavigation returns all navigation entries.
func (fs *FileModuleStore) ListNavigation(_ context.Context) ([]NavigationRecord, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	out := make([]NavigationRecord, len(fs.doc.Navigation))
	copy(out, fs.doc.Navigation)
	return out, nil
}

// MemoryModuleStore is an in-memory ModuleStore for tests and hosts that
// do not persist anything.
type MemoryModuleStore struct {
	mu         sync.Mutex
	modules    map[string]ModuleRecord
	navigation map[string][]NavigationRecord
}

// NewMemoryModuleStore creates an empty in-memory store.
func NewMemoryModuleStore() *MemoryModuleStore {
	return &MemoryModuleStore{
		modules:    make(map[string]ModuleRecord),
		navigation: make(map[string][]NavigationRecord),
	}
}

func (ms *MemoryModuleStore) UpsertModule(_ context.Context, record ModuleRecord) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	key := strings.ToLower(record.Name)
	now := timecache.CachedTime()
	record.UpdatedAt = now
	if existing, ok := ms.modules[key]; ok {
		record.CreatedAt = existing.CreatedAt
	} else {
		record.CreatedAt = now
	}
	ms.modules[key] = record
	return nil
}

func (ms *MemoryModuleStore) GetModule(_ context.Context, name string) (ModuleRecord, bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	record, ok := ms.modules[strings.ToLower(name)]
	return record, ok, nil
}

func (ms *MemoryModuleStore) ListModules(_ context.Context) ([]ModuleRecord, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	out := make([]ModuleRecord, 0, len(ms.modules))
	for _, record := range ms.modules {
		out = append(out, record)
	}
	return out, nil
}

func (ms *MemoryModuleStore) SetModuleEnabled(_ context.Context, name string, enabled bool) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	key := strings.ToLower(name)
	record, ok := ms.modules[key]
	if !ok {
		return nil
	}
	record.Enabled = enabled
	record.UpdatedAt = timecache.CachedTime()
	ms.modules[key] = record
	return nil
}

func (ms *MemoryModuleStore) DeleteModule(_ context.Context, name string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	key := strings.ToLower(name)
	delete(ms.modules, key)
	delete(ms.navigation, key)
	return nil
}

func (ms *MemoryModuleStore) ReplaceNavigation(_ context.Context, module string, items []NavigationItem) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	records := make([]NavigationRecord, 0, len(items))
	for _, item := range items {
		records = append(records, NavigationRecord{NavigationItem: item, Module: module})
	}
	ms.navigation[strings.ToLower(module)] = records
	return nil
}

func (ms *MemoryModuleStore) ListNavigation(_ context.Context) ([]NavigationRecord, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var out []NavigationRecord
	for _, records := range ms.navigation {
		out = append(out, records...)
	}
	return out, nil
}
