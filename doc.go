// doc.go: Package documentation for the modshell module host
//
// Copyright (c) 2025 ModShell contributors
// SPDX-License-Identifier: MPL-2.0

// Package modshell implements the module lifecycle core of a modular web
// shell: a host that loads, activates, hot-reloads and unloads pluggable
// modules at runtime, where each module contributes navigation items,
// routable UI component references and services to the shared application.
//
// The package is organized around a small number of process-wide
// singletons wired together by the ModuleLoader orchestrator:
//
//   - SandboxLoader: isolates a module's binary in its own sandbox
//     (in-process builtin or subprocess) with explicit, best-effort unload
//   - MetadataCache: durable in-memory record of every module's
//     configuration and lifecycle state, surviving unload/reload cycles
//   - ModuleRegistry: concurrent map of currently active module instances
//   - RouteService: maps request paths to module-contributed component IDs
//   - ModuleServiceProvider: per-module service container layered over a
//     whitelisted set of core services
//   - ReloadCoordinator / HotReloadWatcher: safe reload with state
//     capture/restore and development-mode file watching
//
// Modules declare their contributions through an explicit ModuleManifest
// rather than runtime type scanning, so the host never needs reflection
// across the module boundary.
//
// The web rendering pipeline, authentication and persistence engines are
// external collaborators: the host resolves an incoming path to a
// component identifier via RouteService.FindRoute and hands the component
// ID to the renderer.
package modshell
