// loader.go: Module lifecycle orchestration across all shell services
//
// Copyright (c) 2025 ModShell contributors
// SPDX-License-Identifier: MPL-2.0

package modshell

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-timecache"
)

// HostContext scopes one "application startup" of the shell. The startup
// batch runs at most once per HostContext; creating a fresh context (as
// tests do) allows a fresh batch.
type HostContext struct {
	initialized atomic.Bool
	startedAt   time.Time
}

// NewHostContext creates an uninitialized host context.
func NewHostContext() *HostContext {
	return &HostContext{startedAt: timecache.CachedTime()}
}

// Initialized reports whether the startup batch has run.
func (hc *HostContext) Initialized() bool { return hc.initialized.Load() }

// StartedAt returns when the context was created.
func (hc *HostContext) StartedAt() time.Time { return hc.startedAt }

// LoaderConfig carries the loader's construction parameters.
type LoaderConfig struct {
	// ModulesDir is where module binaries live; relative AssemblyFile
	// values in descriptors resolve against it.
	ModulesDir string

	// DescriptorPath locates the descriptor file listing known modules.
	DescriptorPath string

	// SettleDelay is the pause between unload and load during a reload,
	// giving the draining sandbox time to let go of its resources.
	// Zero means 200ms.
	SettleDelay time.Duration

	Store  ModuleStore
	Logger Logger
}

// ModuleLoader orchestrates the full module lifecycle: discovery from
// the descriptor file, sandbox loading, service registration, route and
// navigation publication, activation, unload and reload.
//
// All state transitions are serialized through a single-slot semaphore:
// two concurrent lifecycle operations never interleave, whatever
// combination of load, unload and reload they are.
type ModuleLoader struct {
	config LoaderConfig

	sandboxes  *SandboxLoader
	registry   *ModuleRegistry
	metadata   *MetadataCache
	routes     *RouteService
	provider   *ModuleServiceProvider
	navigation *NavigationService
	state      *SharedState
	store      ModuleStore
	logger     Logger

	sem chan struct{}

	descMu      sync.RWMutex
	descriptors map[string]ModuleDescriptor
}

// NewModuleLoader wires up a loader and all the services it coordinates.
func NewModuleLoader(config LoaderConfig) *ModuleLoader {
	logger := config.Logger
	if logger == nil {
		logger = DefaultLogger()
	}
	if config.SettleDelay <= 0 {
		config.SettleDelay = 200 * time.Millisecond
	}
	store := config.Store
	if store == nil {
		store = NewMemoryModuleStore()
	}

	l := &ModuleLoader{
		config:      config,
		sandboxes:   NewSandboxLoader(logger),
		registry:    NewModuleRegistry(logger),
		metadata:    NewMetadataCache(logger),
		routes:      NewRouteService(logger),
		navigation:  NewNavigationService(logger),
		state:       NewSharedState(logger),
		store:       store,
		logger:      logger,
		sem:         make(chan struct{}, 1),
		descriptors: make(map[string]ModuleDescriptor),
	}
	core := &CoreServices{
		Logger:     logger,
		Registry:   l.registry,
		Routes:     l.routes,
		Metadata:   l.metadata,
		Navigation: l.navigation,
		State:      l.state,
		Store:      store,
	}
	l.provider = NewModuleServiceProvider(core, logger)
	l.sandboxes.SetCore(core)
	return l
}

// Registry exposes the module registry.
func (l *ModuleLoader) Registry() *ModuleRegistry { return l.registry }

// Metadata exposes the metadata cache.
func (l *ModuleLoader) Metadata() *MetadataCache { return l.metadata }

// Routes exposes the route service.
func (l *ModuleLoader) Routes() *RouteService { return l.routes }

// Services exposes the per-module service provider.
func (l *ModuleLoader) Services() *ModuleServiceProvider { return l.provider }

// Navigation exposes the navigation service.
func (l *ModuleLoader) Navigation() *NavigationService { return l.navigation }

// Sandboxes exposes the sandbox loader.
func (l *ModuleLoader) Sandboxes() *SandboxLoader { return l.sandboxes }

// SharedState exposes the cross-module state container.
func (l *ModuleLoader) SharedState() *SharedState { return l.state }

// Store exposes the persistence layer.
func (l *ModuleLoader) Store() ModuleStore { return l.store }

// acquire takes the lifecycle slot or gives up when ctx expires.
func (l *ModuleLoader) acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *ModuleLoader) release() { <-l.sem }

// InitializeModules runs the startup batch: read the descriptor file,
// then load every enabled module in LoadOrder. Individual module
// failures are recorded and skipped; only an unreadable descriptor file
// fails the batch. The batch runs at most once per HostContext.
func (l *ModuleLoader) InitializeModules(ctx context.Context, host *HostContext) error {
	if !host.initialized.CompareAndSwap(false, true) {
		l.logger.Warn("Module initialization already ran for this host context")
		// Re-assert the route table so a shell re-rendering after a soft
		// restart still sees every published route.
		l.routes.Refresh()
		return nil
	}

	file, err := LoadDescriptorFile(l.config.DescriptorPath)
	if err != nil {
		return err
	}
	if err := file.Validate(); err != nil {
		return err
	}

	l.descMu.Lock()
	for _, desc := range file.Modules {
		l.descriptors[strings.ToLower(desc.Name)] = desc
	}
	l.descMu.Unlock()

	batch := file.EnabledSorted()
	l.logger.Info("Initializing modules",
		"total", len(file.Modules),
		"enabled", len(batch))

	loaded := 0
	for _, desc := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		l.warnUnmetDependencies(desc)
		if _, err := l.LoadModule(ctx, desc); err != nil {
			l.logger.Error("Module failed to load, continuing batch",
				"module", desc.Name,
				"error", err)
			continue
		}
		loaded++
	}

	l.logger.Info("Module initialization complete",
		"loaded", loaded,
		"failed", len(batch)-loaded)
	return nil
}

// warnUnmetDependencies logs when a module's declared dependencies are
// not registered yet. Dependencies are advisory ordering hints, never a
// gate: the module still loads.
func (l *ModuleLoader) warnUnmetDependencies(desc ModuleDescriptor) {
	for _, dep := range desc.Dependencies {
		if !l.registry.IsRegistered(dep) {
			l.logger.Warn("Module dependency not loaded yet",
				"module", desc.Name,
				"dependency", dep)
		}
	}
}

// resolveAssemblyPath turns a descriptor's AssemblyFile into a loadable
// path. Builtins pass through; relative paths resolve under ModulesDir.
func (l *ModuleLoader) resolveAssemblyPath(assemblyFile string) string {
	if strings.HasPrefix(assemblyFile, builtinPathPrefix) {
		return assemblyFile
	}
	if filepath.IsAbs(assemblyFile) {
		return assemblyFile
	}
	return filepath.Join(l.config.ModulesDir, assemblyFile)
}

// LoadModule loads one module from its descriptor: resolve the binary,
// create the sandbox, initialize, register services, publish routes and
// navigation, persist the record and activate. Loading an already-loaded
// assembly path returns the existing module.
//
// On failure the module is absent from the registry; what remains is a
// metadata entry in StateError describing what went wrong, keyed by the
// assembly file stem.
func (l *ModuleLoader) LoadModule(ctx context.Context, desc ModuleDescriptor) (Module, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.release()
	return l.loadModuleLocked(ctx, desc)
}

func (l *ModuleLoader) loadModuleLocked(ctx context.Context, desc ModuleDescriptor) (Module, error) {
	path := l.resolveAssemblyPath(desc.AssemblyFile)
	key := moduleKeyFromPath(path)

	if sandbox, ok := l.sandboxes.Get(key); ok && sandbox.Status() == SandboxActive {
		l.logger.Debug("Module already loaded", "module", desc.Name)
		return sandbox.Module(), nil
	}

	if !desc.IsBuiltin() {
		if _, err := os.Stat(path); err != nil {
			l.handleMissingBinary(ctx, desc, path)
			loadErr := NewModuleLoadFailedError(desc.Name, err)
			l.recordFailure(key, desc, path, loadErr)
			return nil, loadErr
		}
	}

	l.metadata.Store(ModuleMetadata{
		Name:          desc.Name,
		AssemblyPath:  path,
		AssemblyFile:  desc.AssemblyFile,
		Version:       desc.Version,
		Enabled:       true,
		IsCore:        desc.IsCore,
		RequiredRole:  desc.RequiredRole,
		Configuration: desc.Configuration,
		Dependencies:  desc.Dependencies,
		State:         StateLoading,
	})

	sandbox, err := l.sandboxes.Load(ctx, path)
	if err != nil {
		l.recordFailure(key, desc, path, err)
		return nil, err
	}

	module := sandbox.Module()
	if err := l.wireModule(ctx, desc, sandbox); err != nil {
		l.sandboxes.Unload(key)
		l.recordFailure(key, desc, path, err)
		return nil, err
	}

	l.metadata.UpdateState(desc.Name, StateLoaded, "")
	l.logger.Info("Module loaded",
		"module", desc.Name,
		"version", module.Info().Version,
		"kind", sandbox.Kind().String())
	return module, nil
}

// wireModule runs the registration sequence for a freshly sandboxed
// module. Any step failing unwinds nothing here; the caller drops the
// sandbox wholesale.
func (l *ModuleLoader) wireModule(ctx context.Context, desc ModuleDescriptor, sandbox *ModuleSandbox) error {
	module := sandbox.Module()
	info := module.Info()
	moduleLogger := l.logger.With("module", info.Name)

	core := l.provider.Core().WithLogger(moduleLogger)
	if err := module.Initialize(ContextWithLogger(ctx, moduleLogger), core); err != nil {
		return NewModuleInitFailedError(desc.Name, err)
	}

	if validator, ok := module.(ConfigValidator); ok && len(desc.Configuration) > 0 {
		if err := validator.ValidateConfig(desc.Configuration); err != nil {
			return NewInvalidConfigurationError(desc.Name, err)
		}
		if err := validator.ApplyConfig(desc.Configuration); err != nil {
			return NewInvalidConfigurationError(desc.Name, err)
		}
	}

	collection := NewServiceCollection()
	if registrar, ok := module.(ServiceRegistrar); ok {
		if err := registrar.RegisterServices(collection); err != nil {
			return NewServiceError("module service registration failed", err)
		}
	}
	l.provider.RegisterModule(info.Name, collection)

	if !l.registry.Register(module) {
		// First registration wins; an impostor with a duplicate name is
		// not re-registered but the rest of its wiring is rolled back by
		// the caller.
		l.provider.UnregisterModule(info.Name)
		return NewModuleRegistryError(
			fmt.Sprintf("module name %q already registered", info.Name), nil)
	}

	manifest := module.Manifest()
	l.routes.RegisterModuleRoutes(info.Name, desc.AssemblyFile, manifest.Routes)

	navigation := manifest.Navigation
	if len(desc.Navigation) > 0 {
		navigation = desc.Navigation
	}
	l.navigation.RegisterModule(info.Name, navigation)

	if err := l.persistModule(ctx, desc, info, navigation); err != nil {
		l.logger.Warn("Module record persistence failed",
			"module", info.Name,
			"error", err)
	}

	if err := module.Activate(ctx); err != nil {
		l.routes.UnregisterModuleRoutes(info.Name)
		l.navigation.UnregisterModule(info.Name)
		l.registry.Unregister(info.Name)
		l.provider.UnregisterModule(info.Name)
		return NewModuleLoadFailedError(desc.Name, err)
	}
	return nil
}

func (l *ModuleLoader) persistModule(ctx context.Context, desc ModuleDescriptor, info ModuleInfo, navigation []NavigationItem) error {
	record := ModuleRecord{
		Name:          info.Name,
		DisplayName:   firstNonEmpty(desc.DisplayName, info.DisplayName),
		Description:   firstNonEmpty(desc.Description, info.Description),
		AssemblyFile:  desc.AssemblyFile,
		Version:       firstNonEmpty(info.Version, desc.Version),
		Author:        firstNonEmpty(info.Author, desc.Author),
		Icon:          firstNonEmpty(desc.Icon, info.Icon),
		Category:      firstNonEmpty(desc.Category, info.Category),
		Enabled:       true,
		IsCore:        desc.IsCore,
		LoadOrder:     desc.LoadOrder,
		RequiredRole:  desc.RequiredRole,
		Configuration: desc.Configuration,
	}
	if err := l.store.UpsertModule(ctx, record); err != nil {
		return err
	}
	return l.store.ReplaceNavigation(ctx, info.Name, navigation)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// recordFailure stamps an error metadata entry keyed by the assembly
// file stem, so admin surfaces can show why the binary did not come up
// even when the module never reported a name.
func (l *ModuleLoader) recordFailure(key string, desc ModuleDescriptor, path string, cause error) {
	meta := ModuleMetadata{
		Name:          key,
		AssemblyPath:  path,
		AssemblyFile:  desc.AssemblyFile,
		Version:       desc.Version,
		Enabled:       desc.Enabled,
		IsCore:        desc.IsCore,
		RequiredRole:  desc.RequiredRole,
		Configuration: desc.Configuration,
		Dependencies:  desc.Dependencies,
		State:         StateError,
		LastError:     cause.Error(),
	}
	l.metadata.Store(meta)

	// When the descriptor name differs from the file stem, a name-keyed
	// record from the load attempt may still say StateLoading; move it to
	// the error state too.
	if !strings.EqualFold(key, desc.Name) {
		if _, ok := l.metadata.Get(desc.Name); ok {
			l.metadata.UpdateState(desc.Name, StateError, cause.Error())
		}
	}
}

// handleMissingBinary flips the persisted enabled flag off so the next
// startup does not retry a binary that no longer exists on disk.
func (l *ModuleLoader) handleMissingBinary(ctx context.Context, desc ModuleDescriptor, path string) {
	l.logger.Warn("Module binary missing, disabling module",
		"module", desc.Name,
		"path", path)
	if err := l.store.SetModuleEnabled(ctx, desc.Name, false); err != nil {
		l.logger.Warn("Failed to persist disabled flag",
			"module", desc.Name,
			"error", err)
	}
}

// UnloadModule deactivates a module and tears down everything it
// contributed, then flips the persisted enabled flag off so the module
// stays out on the next startup. The metadata entry survives in
// StateUnloaded so a later reload can find the assembly path again.
// Returns false when the module is not currently loaded.
func (l *ModuleLoader) UnloadModule(ctx context.Context, name string) (bool, error) {
	if err := l.acquire(ctx); err != nil {
		return false, err
	}
	defer l.release()
	return l.unloadModuleLocked(ctx, name, true)
}

// unloadModuleLocked tears a loaded module down. persistDisable controls
// whether the persisted enabled flag is flipped off: explicit unloads
// flip it, while reload and shutdown leave it alone because the module
// is expected back.
func (l *ModuleLoader) unloadModuleLocked(ctx context.Context, name string, persistDisable bool) (bool, error) {
	module, ok := l.registry.Get(name)
	if !ok {
		l.logger.Warn("Unload requested for module that is not loaded", "module", name)
		return false, nil
	}
	info := module.Info()

	l.metadata.UpdateState(info.Name, StateUnloading, "")

	if err := module.Deactivate(ctx); err != nil {
		// Deactivation failures do not abort the unload; the sandbox is
		// going away regardless.
		l.logger.Warn("Module deactivation reported an error",
			"module", info.Name,
			"error", err)
	}

	l.routes.UnregisterModuleRoutes(info.Name)
	l.navigation.UnregisterModule(info.Name)
	l.registry.Unregister(info.Name)
	l.provider.UnregisterModule(info.Name)

	if meta, ok := l.metadata.Get(info.Name); ok {
		l.sandboxes.Unload(moduleKeyFromPath(meta.AssemblyPath))
	}

	if persistDisable {
		if err := l.store.SetModuleEnabled(ctx, info.Name, false); err != nil {
			l.logger.Warn("Failed to persist disabled flag",
				"module", info.Name,
				"error", err)
		}
		l.metadata.SetEnabled(info.Name, false)
	}

	l.metadata.UpdateState(info.Name, StateUnloaded, "")
	l.logger.Info("Module unloaded", "module", info.Name)
	return true, nil
}

// ReloadModule unloads and immediately reloads one module, holding the
// lifecycle slot across both halves so nothing interleaves. The assembly
// path is rediscovered through fallbacks: the metadata entry, the
// descriptor read at startup, the persisted store record, then the
// descriptor file re-read from disk. If every fallback misses, or the
// assembly binary is gone from disk, the reload fails before the
// currently loaded instance is touched and the metadata entry (if any)
// moves to StateError.
func (l *ModuleLoader) ReloadModule(ctx context.Context, name string) error {
	if err := l.acquire(ctx); err != nil {
		return err
	}
	defer l.release()

	desc, err := l.reloadDescriptor(ctx, name)
	if err != nil {
		l.metadata.UpdateState(name, StateError, err.Error())
		return err
	}

	// A reload that cannot possibly complete must not tear the running
	// instance down first.
	if !desc.IsBuiltin() {
		path := l.resolveAssemblyPath(desc.AssemblyFile)
		if _, statErr := os.Stat(path); statErr != nil {
			reloadErr := NewModuleReloadFailedError(name, "assembly file missing: "+path)
			l.metadata.UpdateState(name, StateError, reloadErr.Error())
			return reloadErr
		}
	}

	l.metadata.UpdateState(name, StateReloading, "")

	if _, err := l.unloadModuleLocked(ctx, name, false); err != nil {
		return err
	}

	// Give the draining sandbox a moment to release its resources, then
	// nudge the collector the way a full unload cycle would.
	select {
	case <-time.After(l.config.SettleDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	runtime.GC()

	if _, err := l.loadModuleLocked(ctx, desc); err != nil {
		return NewModuleReloadFailedError(name, err.Error())
	}
	l.logger.Info("Module reloaded", "module", name)
	return nil
}

// reloadDescriptor reconstructs the descriptor needed to load name
// again: metadata first, the in-memory descriptor table second, the
// persisted store record third, the descriptor file on disk last.
func (l *ModuleLoader) reloadDescriptor(ctx context.Context, name string) (ModuleDescriptor, error) {
	if meta, ok := l.metadata.Get(name); ok && meta.AssemblyFile != "" {
		return ModuleDescriptor{
			Name:          meta.Name,
			AssemblyFile:  meta.AssemblyFile,
			Version:       meta.Version,
			Enabled:       true,
			IsCore:        meta.IsCore,
			RequiredRole:  meta.RequiredRole,
			Configuration: meta.Configuration,
			Dependencies:  meta.Dependencies,
		}, nil
	}

	l.descMu.RLock()
	desc, ok := l.descriptors[strings.ToLower(name)]
	l.descMu.RUnlock()
	if ok {
		return desc, nil
	}

	if record, found, err := l.store.GetModule(ctx, name); err == nil && found && record.AssemblyFile != "" {
		return ModuleDescriptor{
			Name:          record.Name,
			DisplayName:   record.DisplayName,
			AssemblyFile:  record.AssemblyFile,
			Version:       record.Version,
			Enabled:       true,
			IsCore:        record.IsCore,
			LoadOrder:     record.LoadOrder,
			RequiredRole:  record.RequiredRole,
			Configuration: record.Configuration,
		}, nil
	}

	file, err := LoadDescriptorFile(l.config.DescriptorPath)
	if err == nil {
		for _, d := range file.Modules {
			if strings.EqualFold(d.Name, name) {
				return d, nil
			}
		}
	}
	return ModuleDescriptor{}, NewModuleReloadFailedError(name,
		"no metadata or descriptor entry to reload from")
}

// EnableModule marks a module enabled in the store and loads it if a
// descriptor is known. Admin surface; always returns a structured result.
func (l *ModuleLoader) EnableModule(ctx context.Context, name string) OperationResult {
	if err := l.store.SetModuleEnabled(ctx, name, true); err != nil {
		return OperationResult{Success: false, Message: "persisting enabled flag failed", Err: err}
	}
	l.metadata.SetEnabled(name, true)

	l.descMu.RLock()
	desc, ok := l.descriptors[strings.ToLower(name)]
	l.descMu.RUnlock()
	if !ok {
		return OperationResult{Success: true, Message: "module enabled; no descriptor known, load deferred to next startup"}
	}
	if _, err := l.LoadModule(ctx, desc); err != nil {
		return OperationResult{Success: false, Message: "module enabled but load failed", Err: err}
	}
	return OperationResult{Success: true, Message: "module enabled and loaded"}
}

// DisableModule unloads a module and marks it disabled in the store.
func (l *ModuleLoader) DisableModule(ctx context.Context, name string) OperationResult {
	if meta, ok := l.metadata.Get(name); ok && meta.IsCore {
		return OperationResult{Success: false, Message: "core modules cannot be disabled"}
	}
	unloaded, err := l.UnloadModule(ctx, name)
	if err != nil {
		return OperationResult{Success: false, Message: "unload failed", Err: err}
	}
	if err := l.store.SetModuleEnabled(ctx, name, false); err != nil {
		return OperationResult{Success: false, Message: "unloaded but persisting disabled flag failed", Err: err}
	}
	l.metadata.SetEnabled(name, false)
	if !unloaded {
		return OperationResult{Success: true, Message: "module was not loaded; disabled for next startup"}
	}
	return OperationResult{Success: true, Message: "module disabled and unloaded"}
}

// ModuleStatus is the admin view of one known module.
type ModuleStatus struct {
	Name      string      `json:"name"`
	State     ModuleState `json:"state"`
	Version   string      `json:"version,omitempty"`
	Enabled   bool        `json:"enabled"`
	IsCore    bool        `json:"is_core"`
	Loaded    bool        `json:"loaded"`
	LastError string      `json:"last_error,omitempty"`
}

// Statuses returns the admin view of every module the metadata cache
// knows about, loaded or not.
func (l *ModuleLoader) Statuses() []ModuleStatus {
	names := l.metadata.Names()
	out := make([]ModuleStatus, 0, len(names))
	for _, name := range names {
		meta, ok := l.metadata.Get(name)
		if !ok {
			continue
		}
		out = append(out, ModuleStatus{
			Name:      meta.Name,
			State:     meta.State,
			Version:   meta.Version,
			Enabled:   meta.Enabled,
			IsCore:    meta.IsCore,
			Loaded:    l.registry.IsRegistered(meta.Name),
			LastError: meta.LastError,
		})
	}
	return out
}

// Shutdown unloads every registered module and closes all sandboxes.
func (l *ModuleLoader) Shutdown(ctx context.Context) error {
	if err := l.acquire(ctx); err != nil {
		return err
	}
	for _, module := range l.registry.Modules() {
		if _, err := l.unloadModuleLocked(ctx, module.Info().Name, false); err != nil {
			l.logger.Warn("Module unload during shutdown failed",
				"module", module.Info().Name,
				"error", err)
		}
	}
	l.release()
	return l.sandboxes.Close(ctx)
}
