// registry.go: Concurrent registry of currently active module instances
//
// The registry holds only live instances; historical facts live in the
// MetadataCache. Other subsystems (routes, navigation) react to
// registration changes through explicit observer subscriptions rather
// than direct coupling.
//
// Copyright (c) 2025 ModShell contributors
// SPDX-License-Identifier: MPL-2.0

package modshell

import (
	"strings"
	"sync"

	"github.com/agilira/go-timecache"
)

// RegistryEventType distinguishes registration from unregistration.
type RegistryEventType int

const (
	ModuleRegistered RegistryEventType = iota
	ModuleUnregistered
)

// String implements fmt.Stringer for RegistryEventType.
func (t RegistryEventType) String() string {
	if t == ModuleRegistered {
		return "registered"
	}
	return "unregistered"
}

// RegistryEvent notifies observers of a registry change.
type RegistryEvent struct {
	Type   RegistryEventType
	Module string
	Info   ModuleInfo
}

// RegistryObserver handles registry events. Observers run on their own
// goroutine with panic recovery; slow observers never block the registry.
type RegistryObserver func(event RegistryEvent)

// Subscription identifies an observer for later removal.
type Subscription uint64

// ModuleRegistry is the authoritative concurrent map of active module
// instances, case-insensitive by module name.
//
// Duplicate registration keeps the first instance and logs a warning
// (first-registration-wins, deliberately the opposite of the route
// table's last-write-wins conflict rule).
type ModuleRegistry struct {
	mu      sync.RWMutex
	modules map[string]Module

	obsMu     sync.RWMutex
	observers map[Subscription]RegistryObserver
	nextSub   Subscription

	logger Logger
}

// NewModuleRegistry creates an empty registry.
func NewModuleRegistry(logger Logger) *ModuleRegistry {
	if logger == nil {
		logger = DefaultLogger()
	}
	return &ModuleRegistry{
		modules:   make(map[string]Module),
		observers: make(map[Subscription]RegistryObserver),
		logger:    logger,
	}
}

// Register adds a module instance under its reported name. If the name is
// already present the call is a warning no-op and the existing instance
// is kept.
func (r *ModuleRegistry) Register(module Module) bool {
	info := module.Info()
	key := strings.ToLower(info.Name)

	r.mu.Lock()
	if _, exists := r.modules[key]; exists {
		r.mu.Unlock()
		r.logger.Warn("Module already registered, keeping first registration",
			"module", info.Name)
		return false
	}
	r.modules[key] = module
	r.mu.Unlock()

	r.logger.Info("Module registered",
		"module", info.Name,
		"version", info.Version,
		"category", info.Category,
		"at", timecache.CachedTime())

	r.notify(RegistryEvent{Type: ModuleRegistered, Module: info.Name, Info: info})
	return true
}

// Unregister removes the instance registered under name. Missing names
// are a warning no-op.
func (r *ModuleRegistry) Unregister(name string) bool {
	key := strings.ToLower(name)

	r.mu.Lock()
	module, exists := r.modules[key]
	if !exists {
		r.mu.Unlock()
		r.logger.Warn("Unregister of unknown module", "module", name)
		return false
	}
	delete(r.modules, key)
	r.mu.Unlock()

	info := module.Info()
	r.logger.Info("Module unregistered", "module", info.Name)
	r.notify(RegistryEvent{Type: ModuleUnregistered, Module: info.Name, Info: info})
	return true
}

// Get returns the active instance for name.
func (r *ModuleRegistry) Get(name string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	module, ok := r.modules[strings.ToLower(name)]
	return module, ok
}

// IsRegistered reports whether name has an active instance.
func (r *ModuleRegistry) IsRegistered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.modules[strings.ToLower(name)]
	return ok
}

// Modules returns a snapshot of all active instances.
func (r *ModuleRegistry) Modules() []Module {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Module, 0, len(r.modules))
	for _, m := range r.modules {
		out = append(out, m)
	}
	return out
}

// ModulesByCategory returns active instances whose category matches
// (case-insensitive).
func (r *ModuleRegistry) ModulesByCategory(category string) []Module {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Module, 0)
	for _, m := range r.modules {
		if strings.EqualFold(m.Info().Category, category) {
			out = append(out, m)
		}
	}
	return out
}

// Count returns the number of active instances.
func (r *ModuleRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.modules)
}

// Subscribe registers an observer and returns its subscription token.
func (r *ModuleRegistry) Subscribe(observer RegistryObserver) Subscription {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()

	r.nextSub++
	sub := r.nextSub
	r.observers[sub] = observer
	return sub
}

// Unsubscribe removes the observer identified by sub.
func (r *ModuleRegistry) Unsubscribe(sub Subscription) {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	delete(r.observers, sub)
}

// notify dispatches an event to all observers. Each observer runs on its
// own goroutine guarded by panic recovery, so a broken observer cannot
// take down a lifecycle transition.
func (r *ModuleRegistry) notify(event RegistryEvent) {
	r.obsMu.RLock()
	observers := make([]RegistryObserver, 0, len(r.observers))
	for _, obs := range r.observers {
		observers = append(observers, obs)
	}
	r.obsMu.RUnlock()

	for _, obs := range observers {
		go func(o RegistryObserver) {
			defer withStackRecover(r.logger)()
			o(event)
		}(obs)
	}
}
