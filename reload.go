// reload.go: Coordinated module reloads and binary hot-reload watching
//
// Copyright (c) 2025 ModShell contributors
// SPDX-License-Identifier: MPL-2.0

package modshell

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/argus"
)

// ActiveConnectionFunc reports how many live user sessions currently
// depend on a module. The coordinator refuses to reload a busy module;
// wire this to the host's circuit or session tracker.
type ActiveConnectionFunc func(moduleName string) int

// ReloadCoordinatorOptions configures a coordinator.
type ReloadCoordinatorOptions struct {
	// ActiveConnections, when set, gates reloads on live session count.
	ActiveConnections ActiveConnectionFunc

	Logger Logger
}

// ReloadCoordinator wraps the loader's reload with the safety rails an
// interactive host needs: core modules are refused, busy modules are
// refused, module state survives the swap when the module supports it,
// and observers hear about the reload before and after it happens.
type ReloadCoordinator struct {
	loader  *ModuleLoader
	options ReloadCoordinatorOptions

	observerMu    sync.Mutex
	preObservers  map[Subscription]func(moduleName string)
	postObservers map[Subscription]func(moduleName string, err error)
	nextSub       Subscription

	logger Logger
}

// NewReloadCoordinator creates a coordinator around the given loader.
func NewReloadCoordinator(loader *ModuleLoader, options ReloadCoordinatorOptions) *ReloadCoordinator {
	logger := options.Logger
	if logger == nil {
		logger = DefaultLogger()
	}
	return &ReloadCoordinator{
		loader:        loader,
		options:       options,
		preObservers:  make(map[Subscription]func(string)),
		postObservers: make(map[Subscription]func(string, error)),
		logger:        logger,
	}
}

// OnBeforeReload registers an observer invoked before a reload begins.
func (rc *ReloadCoordinator) OnBeforeReload(fn func(moduleName string)) Subscription {
	rc.observerMu.Lock()
	defer rc.observerMu.Unlock()
	rc.nextSub++
	rc.preObservers[rc.nextSub] = fn
	return rc.nextSub
}

// OnAfterReload registers an observer invoked after a reload finishes,
// successfully or not.
func (rc *ReloadCoordinator) OnAfterReload(fn func(moduleName string, err error)) Subscription {
	rc.observerMu.Lock()
	defer rc.observerMu.Unlock()
	rc.nextSub++
	rc.postObservers[rc.nextSub] = fn
	return rc.nextSub
}

// RemoveObserver drops a previously registered observer.
func (rc *ReloadCoordinator) RemoveObserver(sub Subscription) {
	rc.observerMu.Lock()
	defer rc.observerMu.Unlock()
	delete(rc.preObservers, sub)
	delete(rc.postObservers, sub)
}

// SafeReload reloads one module with state preservation. Core modules
// are never reloaded at runtime, and a module with active sessions is
// refused with a retryable error so the caller can try again later.
func (rc *ReloadCoordinator) SafeReload(ctx context.Context, name string) error {
	if meta, ok := rc.loader.Metadata().Get(name); ok && meta.IsCore {
		return NewModuleReloadFailedError(name, "core modules cannot be reloaded at runtime")
	}
	if rc.options.ActiveConnections != nil {
		if n := rc.options.ActiveConnections(name); n > 0 {
			rc.logger.Warn("Reload refused, module has active sessions",
				"module", name,
				"sessions", n)
			return NewModuleReloadFailedError(name, "module has active sessions").
				AsRetryable()
		}
	}

	rc.notifyBefore(name)

	var saved map[string]any
	if module, ok := rc.loader.Registry().Get(name); ok {
		if stateful, ok := module.(Stateful); ok {
			state, err := stateful.CaptureState()
			if err != nil {
				rc.logger.Warn("State capture failed, reloading without it",
					"module", name,
					"error", err)
			} else {
				saved = state
			}
		}
	}

	err := rc.loader.ReloadModule(ctx, name)
	if err == nil && saved != nil {
		if module, ok := rc.loader.Registry().Get(name); ok {
			if stateful, ok := module.(Stateful); ok {
				if restoreErr := stateful.RestoreState(saved); restoreErr != nil {
					rc.logger.Warn("State restore failed after reload",
						"module", name,
						"error", restoreErr)
				}
			}
		}
	}

	rc.notifyAfter(name, err)
	return err
}

func (rc *ReloadCoordinator) notifyBefore(name string) {
	rc.observerMu.Lock()
	fns := make([]func(string), 0, len(rc.preObservers))
	for _, fn := range rc.preObservers {
		fns = append(fns, fn)
	}
	rc.observerMu.Unlock()

	for _, fn := range fns {
		func() {
			defer withStackRecover(rc.logger)()
			fn(name)
		}()
	}
}

func (rc *ReloadCoordinator) notifyAfter(name string, err error) {
	rc.observerMu.Lock()
	fns := make([]func(string, error), 0, len(rc.postObservers))
	for _, fn := range rc.postObservers {
		fns = append(fns, fn)
	}
	rc.observerMu.Unlock()

	for _, fn := range fns {
		func() {
			defer withStackRecover(rc.logger)()
			fn(name, err)
		}()
	}
}

// HotReloadOptions configures the binary watcher.
type HotReloadOptions struct {
	// PollInterval is how often watched binaries are checked. Zero
	// means 2 seconds.
	PollInterval time.Duration

	// Debounce collapses bursts of change events (a compiler writing a
	// binary in chunks) into one reload. Zero means 500ms.
	Debounce time.Duration

	// Audit, when enabled, records every detected change to the audit
	// trail alongside the reloads it triggered.
	Audit argus.AuditConfig

	Logger Logger
}

// DefaultHotReloadOptions returns sensible development defaults with the
// audit trail enabled.
func DefaultHotReloadOptions() HotReloadOptions {
	return HotReloadOptions{
		PollInterval: 2 * time.Second,
		Debounce:     500 * time.Millisecond,
		Audit: argus.AuditConfig{
			Enabled:       true,
			OutputFile:    "modshell-reload-audit.jsonl",
			MinLevel:      argus.AuditInfo,
			BufferSize:    1000,
			FlushInterval: 5 * time.Second,
		},
	}
}

// HotReloadWatcher watches module binaries on disk and drives SafeReload
// when they change, so a developer can rebuild a module and see it swap
// in without restarting the shell.
type HotReloadWatcher struct {
	coordinator *ReloadCoordinator
	watcher     *argus.Watcher
	options     HotReloadOptions

	mu      sync.Mutex
	pending map[string]*time.Timer
	watched map[string]string

	running atomic.Bool
	logger  Logger
}

// NewHotReloadWatcher creates a watcher bound to the coordinator.
func NewHotReloadWatcher(coordinator *ReloadCoordinator, options HotReloadOptions) *HotReloadWatcher {
	logger := options.Logger
	if logger == nil {
		logger = DefaultLogger()
	}
	if options.PollInterval <= 0 {
		options.PollInterval = 2 * time.Second
	}
	if options.Debounce <= 0 {
		options.Debounce = 500 * time.Millisecond
	}

	argusConfig := argus.Config{
		PollInterval:         options.PollInterval,
		CacheTTL:             options.PollInterval / 2,
		MaxWatchedFiles:      100,
		Audit:                options.Audit,
		OptimizationStrategy: argus.OptimizationSingleEvent,
		ErrorHandler: func(err error, filepath string) {
			logger.Error("Binary watch error", "error", err, "file", filepath)
		},
	}

	return &HotReloadWatcher{
		coordinator: coordinator,
		watcher:     argus.New(argusConfig),
		options:     options,
		pending:     make(map[string]*time.Timer),
		watched:     make(map[string]string),
		logger:      logger,
	}
}

// WatchModule starts watching a loaded module's binary. Builtins have no
// file to watch and are skipped silently.
func (hw *HotReloadWatcher) WatchModule(name string) error {
	meta, ok := hw.coordinator.loader.Metadata().Get(name)
	if !ok {
		return NewModuleNotFoundError(name)
	}
	if strings.HasPrefix(meta.AssemblyPath, builtinPathPrefix) {
		return nil
	}

	hw.mu.Lock()
	if _, already := hw.watched[meta.AssemblyPath]; already {
		hw.mu.Unlock()
		return nil
	}
	hw.watched[meta.AssemblyPath] = meta.Name
	hw.mu.Unlock()

	if err := hw.watcher.Watch(meta.AssemblyPath, hw.handleChange); err != nil {
		hw.mu.Lock()
		delete(hw.watched, meta.AssemblyPath)
		hw.mu.Unlock()
		return err
	}
	hw.logger.Debug("Watching module binary",
		"module", meta.Name,
		"path", meta.AssemblyPath)
	return nil
}

// WatchLoaded starts watching every currently registered module.
func (hw *HotReloadWatcher) WatchLoaded() error {
	for _, module := range hw.coordinator.loader.Registry().Modules() {
		if err := hw.WatchModule(module.Info().Name); err != nil {
			return err
		}
	}
	return nil
}

// Start begins polling. Idempotent.
func (hw *HotReloadWatcher) Start() error {
	if !hw.running.CompareAndSwap(false, true) {
		return nil
	}
	return hw.watcher.Start()
}

// Stop halts polling and cancels pending debounce timers.
func (hw *HotReloadWatcher) Stop() error {
	if !hw.running.CompareAndSwap(true, false) {
		return nil
	}

	hw.mu.Lock()
	for path, timer := range hw.pending {
		timer.Stop()
		delete(hw.pending, path)
	}
	hw.mu.Unlock()

	return hw.watcher.Stop()
}

// handleChange debounces a change event and schedules the reload.
func (hw *HotReloadWatcher) handleChange(event argus.ChangeEvent) {
	hw.mu.Lock()
	moduleName, tracked := hw.watched[event.Path]
	hw.mu.Unlock()
	if !tracked {
		return
	}

	if event.IsDelete {
		hw.logger.Warn("Watched module binary deleted",
			"module", moduleName,
			"path", event.Path)
		return
	}

	hw.logger.Debug("Module binary changed",
		"module", moduleName,
		"path", event.Path,
		"mod_time", event.ModTime,
		"size", event.Size)

	hw.mu.Lock()
	if timer, ok := hw.pending[event.Path]; ok {
		timer.Stop()
	}
	hw.pending[event.Path] = time.AfterFunc(hw.options.Debounce, func() {
		defer withStackRecover(hw.logger)()

		hw.mu.Lock()
		delete(hw.pending, event.Path)
		hw.mu.Unlock()

		if !hw.running.Load() {
			return
		}
		hw.logger.Info("Hot reloading module", "module", moduleName)
		if err := hw.coordinator.SafeReload(context.Background(), moduleName); err != nil {
			hw.logger.Error("Hot reload failed",
				"module", moduleName,
				"error", err)
		}
	})
	hw.mu.Unlock()
}
