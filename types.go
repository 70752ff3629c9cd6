// types.go: Common data types and structures for the module system
//
// This file contains the shared data model used by the loader, registry,
// metadata cache and route service. Keeping the types separate from the
// interfaces mirrors the rest of the package layout and avoids import
// tangles between components.
//
// Copyright (c) 2025 ModShell contributors
// SPDX-License-Identifier: MPL-2.0

package modshell

import (
	"time"
)

// ModuleState represents a module's position in the lifecycle state machine.
//
// Transitions:
//
//	NotLoaded → Loading → Loaded → Unloading → Unloaded → Reloading → Loaded
//
// StateError is reachable from any state on failure, including a failed
// reload. The MetadataCache is the owner of these transitions.
type ModuleState int

const (
	StateNotLoaded ModuleState = iota
	StateLoading
	StateLoaded
	StateUnloading
	StateUnloaded
	StateReloading
	StateError
)

// String returns a human-readable representation of the module state.
func (s ModuleState) String() string {
	switch s {
	case StateNotLoaded:
		return "not_loaded"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateUnloading:
		return "unloading"
	case StateUnloaded:
		return "unloaded"
	case StateReloading:
		return "reloading"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// ModuleInfo contains the identity metadata a module reports about itself.
//
// Fields:
//   - Name: unique identifier, the registry key (case-insensitive)
//   - DisplayName: human-readable name shown in navigation and admin UI
//   - Version: module version for compatibility and update management
//   - Order: load/activation order, ascending
type ModuleInfo struct {
	Name        string `json:"name" yaml:"name"`
	DisplayName string `json:"display_name" yaml:"display_name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Version     string `json:"version" yaml:"version"`
	Author      string `json:"author,omitempty" yaml:"author,omitempty"`
	Icon        string `json:"icon,omitempty" yaml:"icon,omitempty"`
	Category    string `json:"category,omitempty" yaml:"category,omitempty"`
	Order       int    `json:"order" yaml:"order"`
}

// NavigationItem is a navigation entry contributed by a module.
//
// ParentID links child items to a parent entry by identifier, forming the
// navigation tree persisted by the ModuleStore.
type NavigationItem struct {
	ID           string `json:"id" yaml:"id"`
	Label        string `json:"label" yaml:"label"`
	Icon         string `json:"icon,omitempty" yaml:"icon,omitempty"`
	Path         string `json:"path" yaml:"path"`
	RequiredRole string `json:"required_role,omitempty" yaml:"required_role,omitempty"`
	Order        int    `json:"order" yaml:"order"`
	ParentID     string `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
}

// ComponentRoute pairs a route template with the identifier of the UI
// component that renders it. Templates may contain {parameter} segments.
type ComponentRoute struct {
	Template    string `json:"template" yaml:"template"`
	ComponentID string `json:"component_id" yaml:"component_id"`
}

// ModuleManifest is the explicit contribution list a module hands to the
// host: routable components, navigation entries and default settings.
// This replaces any runtime type scanning across the module boundary.
type ModuleManifest struct {
	Routes          []ComponentRoute `json:"routes,omitempty" yaml:"routes,omitempty"`
	Navigation      []NavigationItem `json:"navigation,omitempty" yaml:"navigation,omitempty"`
	DefaultSettings map[string]any   `json:"default_settings,omitempty" yaml:"default_settings,omitempty"`
}

// OperationResult is the structured result returned to administrative
// callers for every lifecycle operation. Admin surfaces never receive a
// raw unhandled error.
type OperationResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Err     error  `json:"-"`
}

// ModuleMetadata is the durable per-module record owned by the
// MetadataCache. It survives unload so a later reload can recover the
// module's path and configuration after the sandbox is gone.
type ModuleMetadata struct {
	Name          string         `json:"name"`
	AssemblyPath  string         `json:"assembly_path"`
	AssemblyFile  string         `json:"assembly_file"`
	Version       string         `json:"version,omitempty"`
	LoadedAt      time.Time      `json:"loaded_at,omitempty"`
	UnloadedAt    time.Time      `json:"unloaded_at,omitempty"`
	Enabled       bool           `json:"enabled"`
	IsCore        bool           `json:"is_core"`
	RequiredRole  string         `json:"required_role,omitempty"`
	Configuration map[string]any `json:"configuration,omitempty"`
	Dependencies  []string       `json:"dependencies,omitempty"`
	State         ModuleState    `json:"state"`
	LastError     string         `json:"last_error,omitempty"`
}
