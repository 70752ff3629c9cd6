// module.go: Core module contract and optional capability interfaces
//
// Copyright (c) 2025 ModShell contributors
// SPDX-License-Identifier: MPL-2.0

package modshell

import (
	"context"
)

// Module is the contract every hosted module implements.
//
// A module reports its identity, declares its contributions through an
// explicit manifest, and participates in the lifecycle driven by the
// ModuleLoader: Initialize → Activate while loading, Deactivate while
// unloading. Lifecycle methods honor their context for cancellation.
//
// Exactly one live instance exists per module name at a time; the
// ModuleRegistry owns the instance while it is active.
type Module interface {
	// Info returns the module's identity metadata.
	Info() ModuleInfo

	// Manifest returns the module's contribution list: routes,
	// navigation items and default settings. Called once per load; the
	// host treats the result as immutable.
	Manifest() ModuleManifest

	// Initialize prepares the module. The host passes the core service
	// bundle so modules receive their dependencies explicitly instead of
	// pulling them from an ambient container.
	Initialize(ctx context.Context, services *CoreServices) error

	// Activate makes the module live: routes and navigation become
	// visible after activation succeeds.
	Activate(ctx context.Context) error

	// Deactivate stops the module before unload. Should be idempotent.
	Deactivate(ctx context.Context) error
}

// ServiceRegistrar is the optional capability for modules that declare
// private services. RegisterServices is invoked against the module's own
// ServiceCollection; factories registered there receive the core service
// bundle at resolution time, so module services may depend on host
// facilities without seeing other modules' scopes.
type ServiceRegistrar interface {
	RegisterServices(services *ServiceCollection) error
}

// ConfigValidator is the optional capability for modules that validate
// and apply configuration maps from the descriptor or admin surface.
type ConfigValidator interface {
	// ValidateConfig checks a configuration map without applying it.
	ValidateConfig(config map[string]any) error

	// ApplyConfig applies a validated configuration map.
	ApplyConfig(config map[string]any) error
}

// Stateful is the optional capability for modules that carry in-memory
// state across a hot reload. The ReloadCoordinator captures state before
// unload and restores it after the reloaded module settles.
type Stateful interface {
	// CaptureState returns a snapshot of the module's restorable state.
	CaptureState() (map[string]any, error)

	// RestoreState re-applies a previously captured snapshot.
	RestoreState(state map[string]any) error
}
