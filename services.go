// services.go: Per-module service scopes and the host capability bundle
//
// Copyright (c) 2025 ModShell contributors
// SPDX-License-Identifier: MPL-2.0

package modshell

import (
	"io"
	"strings"
	"sync"
)

// CoreServices bundles the host capabilities handed to every module at
// Initialize time. Modules receive exactly this set, nothing ambient:
// a module that needs a host facility takes it from here, and a facility
// absent from the bundle is simply not available to modules.
type CoreServices struct {
	Logger     Logger
	Registry   *ModuleRegistry
	Routes     *RouteService
	Metadata   *MetadataCache
	Navigation *NavigationService
	State      *SharedState
	Store      ModuleStore
}

// WithLogger returns a shallow copy of the bundle carrying the given
// logger, for handing a module a logger scoped to its own name.
func (cs *CoreServices) WithLogger(logger Logger) *CoreServices {
	out := *cs
	out.Logger = logger
	return &out
}

// ServiceFactory builds a service instance. Factories run lazily on
// first resolution and the result is cached for the scope's lifetime.
type ServiceFactory func(core *CoreServices) (any, error)

// ServiceCollection accumulates a module's service registrations during
// RegisterServices. It is not safe for concurrent use; the loader hands
// each module its own collection and seals it afterwards.
type ServiceCollection struct {
	factories map[string]ServiceFactory
	instances map[string]any
	order     []string
}

// NewServiceCollection creates an empty collection.
func NewServiceCollection() *ServiceCollection {
	return &ServiceCollection{
		factories: make(map[string]ServiceFactory),
		instances: make(map[string]any),
	}
}

// AddFactory registers a lazily-constructed service under name.
// Re-adding a name replaces the previous registration.
func (sc *ServiceCollection) AddFactory(name string, factory ServiceFactory) *ServiceCollection {
	key := strings.ToLower(name)
	if _, exists := sc.factories[key]; !exists {
		if _, exists := sc.instances[key]; !exists {
			sc.order = append(sc.order, key)
		}
	}
	sc.factories[key] = factory
	delete(sc.instances, key)
	return sc
}

// AddInstance registers an already-constructed service under name.
func (sc *ServiceCollection) AddInstance(name string, instance any) *ServiceCollection {
	key := strings.ToLower(name)
	if _, exists := sc.factories[key]; !exists {
		if _, exists := sc.instances[key]; !exists {
			sc.order = append(sc.order, key)
		}
	}
	sc.instances[key] = instance
	delete(sc.factories, key)
	return sc
}

// Len reports the number of registered services.
func (sc *ServiceCollection) Len() int {
	return len(sc.order)
}

// serviceScope is a sealed, resolvable view of one module's collection.
type serviceScope struct {
	mu        sync.Mutex
	module    string
	factories map[string]ServiceFactory
	resolved  map[string]any
	core      *CoreServices
}

func (s *serviceScope) resolve(name string) (any, bool, error) {
	key := strings.ToLower(name)

	s.mu.Lock()
	defer s.mu.Unlock()

	if instance, ok := s.resolved[key]; ok {
		return instance, true, nil
	}
	factory, ok := s.factories[key]
	if !ok {
		return nil, false, nil
	}
	instance, err := factory(s.core)
	if err != nil {
		return nil, true, NewServiceResolutionError(s.module, name, err)
	}
	s.resolved[key] = instance
	return instance, true, nil
}

// contains reports whether the scope can produce the keyed service,
// resolved or not.
func (s *serviceScope) contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.resolved[key]; ok {
		return true
	}
	_, ok := s.factories[key]
	return ok
}

// close disposes every resolved instance implementing io.Closer.
// Disposal order is unspecified.
func (s *serviceScope) close(logger Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, instance := range s.resolved {
		if closer, ok := instance.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				logger.Warn("Service disposal failed",
					"module", s.module,
					"service", name,
					"error", err)
			}
		}
	}
	s.resolved = make(map[string]any)
}

// ModuleServiceProvider keeps one isolated service scope per module.
// Scopes never see each other's registrations: a lookup resolves against
// the owning module's scope only, falling back to the shared core bundle
// for host facilities. Replacing a module's scope (on reload) disposes
// the old scope's io.Closer instances.
type ModuleServiceProvider struct {
	mu     sync.RWMutex
	scopes map[string]*serviceScope

	// owners maps service name to owning module for diagnostics and the
	// FindOwner lookup. Written under mu; read lock-free.
	owners sync.Map

	core   *CoreServices
	logger Logger
}

// NewModuleServiceProvider creates a provider backed by the given core
// bundle.
func NewModuleServiceProvider(core *CoreServices, logger Logger) *ModuleServiceProvider {
	if logger == nil {
		logger = DefaultLogger()
	}
	return &ModuleServiceProvider{
		scopes: make(map[string]*serviceScope),
		core:   core,
		logger: logger,
	}
}

// RegisterModule seals a module's collection into a scope, replacing and
// disposing any previous scope for the same module.
func (p *ModuleServiceProvider) RegisterModule(moduleName string, collection *ServiceCollection) {
	key := strings.ToLower(moduleName)

	scope := &serviceScope{
		module:    moduleName,
		factories: make(map[string]ServiceFactory, len(collection.factories)),
		resolved:  make(map[string]any, len(collection.instances)),
		core:      p.core,
	}
	for name, factory := range collection.factories {
		scope.factories[name] = factory
	}
	for name, instance := range collection.instances {
		scope.resolved[name] = instance
	}

	p.mu.Lock()
	old := p.scopes[key]
	p.scopes[key] = scope
	for _, name := range collection.order {
		p.owners.Store(name, moduleName)
	}
	p.mu.Unlock()

	if old != nil {
		old.close(p.logger)
		p.logger.Debug("Module service scope replaced", "module", moduleName)
	} else {
		p.logger.Debug("Module service scope registered",
			"module", moduleName,
			"services", collection.Len())
	}
}

// UnregisterModule removes a module's scope and disposes its resolved
// services. Unknown modules are a no-op.
func (p *ModuleServiceProvider) UnregisterModule(moduleName string) {
	key := strings.ToLower(moduleName)

	p.mu.Lock()
	scope := p.scopes[key]
	delete(p.scopes, key)
	p.mu.Unlock()

	if scope == nil {
		return
	}
	p.owners.Range(func(name, owner any) bool {
		if strings.EqualFold(owner.(string), moduleName) {
			p.owners.Delete(name)
		}
		return true
	})
	scope.close(p.logger)
	p.logger.Debug("Module service scope removed", "module", moduleName)
}

// GetService resolves a service from the named module's scope. The error
// is non-nil only when a factory failed; a missing module or service
// returns (nil, false, nil).
func (p *ModuleServiceProvider) GetService(moduleName, serviceName string) (any, bool, error) {
	p.mu.RLock()
	scope := p.scopes[strings.ToLower(moduleName)]
	p.mu.RUnlock()

	if scope == nil {
		return nil, false, nil
	}
	return scope.resolve(serviceName)
}

// FindOwner reports which module registered a service name. The reverse
// index answers first; an index hit that the owning scope can no longer
// back (stale after a scope replacement) is dropped and every live scope
// is scanned, repairing the index on a hit.
func (p *ModuleServiceProvider) FindOwner(serviceName string) (string, bool) {
	key := strings.ToLower(serviceName)

	if owner, ok := p.owners.Load(key); ok {
		name := owner.(string)
		if p.scopeContains(name, key) {
			return name, true
		}
		p.owners.Delete(key)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, scope := range p.scopes {
		if scope.contains(key) {
			p.owners.Store(key, scope.module)
			return scope.module, true
		}
	}
	return "", false
}

func (p *ModuleServiceProvider) scopeContains(moduleName, key string) bool {
	p.mu.RLock()
	scope := p.scopes[strings.ToLower(moduleName)]
	p.mu.RUnlock()
	return scope != nil && scope.contains(key)
}

// ResolveService resolves a service by name alone: the owner index (with
// its scan fallback) locates the owning scope, and names no module
// claims fall through to the shared core bundle's well-known entries.
func (p *ModuleServiceProvider) ResolveService(serviceName string) (any, bool, error) {
	if owner, ok := p.FindOwner(serviceName); ok {
		return p.GetService(owner, serviceName)
	}
	if instance, ok := p.coreService(strings.ToLower(serviceName)); ok {
		return instance, true, nil
	}
	return nil, false, nil
}

// coreService maps well-known names onto the shared host bundle so
// name-only resolution reaches host facilities without a module owner.
func (p *ModuleServiceProvider) coreService(key string) (any, bool) {
	if p.core == nil {
		return nil, false
	}
	switch key {
	case "logger":
		return p.core.Logger, p.core.Logger != nil
	case "registry":
		return p.core.Registry, p.core.Registry != nil
	case "routes":
		return p.core.Routes, p.core.Routes != nil
	case "metadata":
		return p.core.Metadata, p.core.Metadata != nil
	case "navigation":
		return p.core.Navigation, p.core.Navigation != nil
	case "state":
		return p.core.State, p.core.State != nil
	case "store":
		return p.core.Store, p.core.Store != nil
	}
	return nil, false
}

// Core exposes the shared host bundle.
func (p *ModuleServiceProvider) Core() *CoreServices {
	return p.core
}

// Modules lists the module names with a live scope.
func (p *ModuleServiceProvider) Modules() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]string, 0, len(p.scopes))
	for _, scope := range p.scopes {
		out = append(out, scope.module)
	}
	return out
}

// Resolve fetches a service from a module's scope and asserts its type.
func Resolve[T any](p *ModuleServiceProvider, moduleName, serviceName string) (T, error) {
	var zero T
	instance, found, err := p.GetService(moduleName, serviceName)
	if err != nil {
		return zero, err
	}
	if !found {
		return zero, NewServiceNotFoundError(moduleName, serviceName)
	}
	typed, ok := instance.(T)
	if !ok {
		return zero, NewServiceTypeMismatchError(moduleName, serviceName)
	}
	return typed, nil
}
