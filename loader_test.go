// loader_test.go: Lifecycle orchestration tests
//
// Copyright (c) 2025 ModShell contributors
// SPDX-License-Identifier: MPL-2.0

package modshell

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoaderLoadBuiltin(t *testing.T) {
	module := newFakeModule("ldr-dashboard")
	module.manifest = ModuleManifest{
		Routes:     []ComponentRoute{{Template: "dashboard", ComponentID: "dash-home"}},
		Navigation: []NavigationItem{{ID: "nav-dash", Label: "Dashboard", Path: "/dashboard"}},
	}
	module.services = map[string]any{"widgets": "widget-service"}
	RegisterBuiltin("ldr-dashboard", func() Module { return module })

	loader := newTestLoader(nil)
	ctx := context.Background()

	loaded, err := loader.LoadModule(ctx, builtinDescriptor("ldr-dashboard"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded != Module(module) {
		t.Fatal("expected the builtin instance back")
	}

	init, active, _ := module.counts()
	if init != 1 || active != 1 {
		t.Errorf("expected initialize and activate once, got init=%d active=%d", init, active)
	}
	if !loader.Registry().IsRegistered("ldr-dashboard") {
		t.Error("module should be registered")
	}
	if _, ok := loader.Routes().FindRoute("dashboard"); !ok {
		t.Error("manifest routes should be published")
	}
	if _, found, _ := loader.Services().GetService("ldr-dashboard", "widgets"); !found {
		t.Error("registered services should resolve")
	}
	meta, ok := loader.Metadata().Get("ldr-dashboard")
	if !ok || meta.State != StateLoaded {
		t.Errorf("expected loaded metadata, got %+v", meta)
	}
	record, found, _ := loader.Store().GetModule(ctx, "ldr-dashboard")
	if !found || !record.Enabled {
		t.Error("module record should be persisted as enabled")
	}
}

func TestLoaderLoadsModuleWithoutOptionalCapabilities(t *testing.T) {
	module := &bareModule{
		info:     ModuleInfo{Name: "ldr-bare", Version: "0.1.0"},
		manifest: ModuleManifest{Routes: []ComponentRoute{{Template: "bare", ComponentID: "c"}}},
	}
	RegisterBuiltin("ldr-bare", func() Module { return module })

	loader := newTestLoader(nil)
	ctx := context.Background()

	if _, err := loader.LoadModule(ctx, builtinDescriptor("ldr-bare")); err != nil {
		t.Fatalf("modules without optional capabilities must load: %v", err)
	}
	if _, ok := loader.Routes().FindRoute("bare"); !ok {
		t.Error("routes should be published")
	}
	if _, found, _ := loader.Services().GetService("ldr-bare", "anything"); found {
		t.Error("a module without a registrar has an empty scope")
	}
}

func TestLoaderLoadIsIdempotent(t *testing.T) {
	module := newFakeModule("ldr-idem")
	RegisterBuiltin("ldr-idem", func() Module { return module })

	loader := newTestLoader(nil)
	ctx := context.Background()
	desc := builtinDescriptor("ldr-idem")

	if _, err := loader.LoadModule(ctx, desc); err != nil {
		t.Fatalf("first load failed: %v", err)
	}
	if _, err := loader.LoadModule(ctx, desc); err != nil {
		t.Fatalf("second load failed: %v", err)
	}

	init, active, _ := module.counts()
	if init != 1 || active != 1 {
		t.Errorf("second load of same path must be a no-op, got init=%d active=%d", init, active)
	}
}

func TestLoaderUnload(t *testing.T) {
	module := newFakeModule("ldr-unload")
	module.manifest.Routes = []ComponentRoute{{Template: "unload-me", ComponentID: "c"}}
	RegisterBuiltin("ldr-unload", func() Module { return module })

	logger := NewTestLogger()
	loader := newTestLoader(logger)
	ctx := context.Background()

	if _, err := loader.LoadModule(ctx, builtinDescriptor("ldr-unload")); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	ok, err := loader.UnloadModule(ctx, "ldr-unload")
	if err != nil || !ok {
		t.Fatalf("unload failed: ok=%t err=%v", ok, err)
	}

	_, _, deactiv := module.counts()
	if deactiv != 1 {
		t.Errorf("expected one deactivation, got %d", deactiv)
	}
	if loader.Registry().IsRegistered("ldr-unload") {
		t.Error("module should be unregistered")
	}
	if _, found := loader.Routes().FindRoute("unload-me"); found {
		t.Error("routes should be withdrawn")
	}
	meta, found := loader.Metadata().Get("ldr-unload")
	if !found {
		t.Fatal("metadata must survive unload")
	}
	if meta.State != StateUnloaded {
		t.Errorf("expected unloaded state, got %s", meta.State)
	}

	ok, err = loader.UnloadModule(ctx, "ldr-unload")
	if err != nil || ok {
		t.Error("second unload must be a soft no-op")
	}
	if !logger.HasMessage("WARN", "Unload requested for module that is not loaded") {
		t.Error("soft no-op should be logged")
	}
}

func TestLoaderUnloadDisablesPersistedRecord(t *testing.T) {
	module := newFakeModule("ldr-unload-persist")
	RegisterBuiltin("ldr-unload-persist", func() Module { return module })

	loader := newTestLoader(nil)
	ctx := context.Background()
	if _, err := loader.LoadModule(ctx, builtinDescriptor("ldr-unload-persist")); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if _, err := loader.UnloadModule(ctx, "ldr-unload-persist"); err != nil {
		t.Fatalf("unload failed: %v", err)
	}

	record, found, _ := loader.Store().GetModule(ctx, "ldr-unload-persist")
	if !found || record.Enabled {
		t.Error("unload should flip the persisted enabled flag off")
	}
	meta, _ := loader.Metadata().Get("ldr-unload-persist")
	if meta.Enabled {
		t.Error("metadata should track the disabled flag")
	}
}

func TestLoaderShutdownKeepsModulesEnabled(t *testing.T) {
	module := newFakeModule("ldr-shutdown-enabled")
	RegisterBuiltin("ldr-shutdown-enabled", func() Module { return module })

	loader := newTestLoader(nil)
	ctx := context.Background()
	if _, err := loader.LoadModule(ctx, builtinDescriptor("ldr-shutdown-enabled")); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if err := loader.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}

	record, found, _ := loader.Store().GetModule(ctx, "ldr-shutdown-enabled")
	if !found || !record.Enabled {
		t.Error("shutdown must not disable modules for the next startup")
	}
}

func TestLoaderReloadRestoresRoutes(t *testing.T) {
	module := newFakeModule("ldr-reload")
	module.manifest.Routes = []ComponentRoute{{Template: "reload-me", ComponentID: "c"}}
	RegisterBuiltin("ldr-reload", func() Module { return module })

	loader := newTestLoader(nil)
	ctx := context.Background()

	if _, err := loader.LoadModule(ctx, builtinDescriptor("ldr-reload")); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if err := loader.ReloadModule(ctx, "ldr-reload"); err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	if !loader.Registry().IsRegistered("ldr-reload") {
		t.Error("module should be registered after reload")
	}
	if _, ok := loader.Routes().FindRoute("reload-me"); !ok {
		t.Error("routes should be republished after reload")
	}
	init, active, deactiv := module.counts()
	if init != 2 || active != 2 || deactiv != 1 {
		t.Errorf("unexpected lifecycle counts after reload: init=%d active=%d deactiv=%d",
			init, active, deactiv)
	}
	meta, _ := loader.Metadata().Get("ldr-reload")
	if meta.State != StateLoaded {
		t.Errorf("expected loaded state after reload, got %s", meta.State)
	}
}

func TestLoaderReloadWithoutAnySourceFails(t *testing.T) {
	module := newFakeModule("ldr-orphan")
	RegisterBuiltin("ldr-orphan", func() Module { return module })

	loader := newTestLoader(nil)
	ctx := context.Background()

	if _, err := loader.LoadModule(ctx, builtinDescriptor("ldr-orphan")); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	loader.Metadata().Remove("ldr-orphan")
	if err := loader.Store().DeleteModule(ctx, "ldr-orphan"); err != nil {
		t.Fatalf("deleting store record: %v", err)
	}

	if err := loader.ReloadModule(ctx, "ldr-orphan"); err == nil {
		t.Fatal("reload with no metadata, store record or descriptor must fail")
	}
}

func TestLoaderReloadFallsBackToStoreRecord(t *testing.T) {
	module := newFakeModule("ldr-storedesc")
	RegisterBuiltin("ldr-storedesc", func() Module { return module })

	store := NewMemoryModuleStore()
	ctx := context.Background()
	record := ModuleRecord{Name: "ldr-storedesc", AssemblyFile: "builtin:ldr-storedesc", Enabled: true}
	if err := store.UpsertModule(ctx, record); err != nil {
		t.Fatalf("seeding store: %v", err)
	}

	loader := NewModuleLoader(LoaderConfig{
		SettleDelay: time.Millisecond,
		Store:       store,
		Logger:      NewTestLogger(),
	})
	if err := loader.ReloadModule(ctx, "ldr-storedesc"); err != nil {
		t.Fatalf("reload should rebuild the descriptor from the store record: %v", err)
	}
	if !loader.Registry().IsRegistered("ldr-storedesc") {
		t.Error("module should be loaded from the persisted record")
	}
}

func TestLoaderReloadMissingBinaryLeavesModuleRunning(t *testing.T) {
	module := newFakeModule("ldr-vanish")
	module.manifest.Routes = []ComponentRoute{{Template: "vanish", ComponentID: "c"}}
	RegisterBuiltin("ldr-vanish", func() Module { return module })

	loader := newTestLoader(nil)
	ctx := context.Background()
	if _, err := loader.LoadModule(ctx, builtinDescriptor("ldr-vanish")); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	// Point the metadata at a binary that no longer exists on disk.
	meta, _ := loader.Metadata().Get("ldr-vanish")
	meta.AssemblyFile = "vanished.bin"
	loader.Metadata().Store(meta)

	if err := loader.ReloadModule(ctx, "ldr-vanish"); err == nil {
		t.Fatal("reload must fail when the binary is gone")
	}
	if !loader.Registry().IsRegistered("ldr-vanish") {
		t.Error("a reload that cannot complete must leave the module loaded")
	}
	if _, ok := loader.Routes().FindRoute("vanish"); !ok {
		t.Error("routes must survive the refused reload")
	}
	_, _, deactiv := module.counts()
	if deactiv != 0 {
		t.Errorf("the running instance must not be deactivated, got %d", deactiv)
	}
	meta, _ = loader.Metadata().Get("ldr-vanish")
	if meta.State != StateError {
		t.Errorf("expected error state after refused reload, got %s", meta.State)
	}
}

func TestLoaderInitFailureIsIsolated(t *testing.T) {
	bad := newFakeModule("ldr-bad")
	bad.failInit = errors.New("init exploded")
	RegisterBuiltin("ldr-bad", func() Module { return bad })

	loader := newTestLoader(nil)
	ctx := context.Background()

	if _, err := loader.LoadModule(ctx, builtinDescriptor("ldr-bad")); err == nil {
		t.Fatal("expected load error")
	}

	if loader.Registry().IsRegistered("ldr-bad") {
		t.Error("failed module must not appear in the registry")
	}
	meta, ok := loader.Metadata().Get("ldr-bad")
	if !ok {
		t.Fatal("failure should leave an error metadata entry")
	}
	if meta.State != StateError || meta.LastError == "" {
		t.Errorf("expected error state with message, got %+v", meta)
	}
}

func TestLoaderInitFailureMarksDescriptorNameRecord(t *testing.T) {
	bad := newFakeModule("ErrKeyModule")
	bad.failInit = errors.New("init exploded")
	RegisterBuiltin("ldr-errkey-impl", func() Module { return bad })

	loader := newTestLoader(nil)
	ctx := context.Background()

	// Descriptor name and assembly stem deliberately differ; both records
	// must reflect the failure.
	desc := ModuleDescriptor{
		Name:         "ErrKeyModule",
		DisplayName:  "ErrKeyModule",
		AssemblyFile: builtinPathPrefix + "ldr-errkey-impl",
		Enabled:      true,
	}
	if _, err := loader.LoadModule(ctx, desc); err == nil {
		t.Fatal("expected load error")
	}

	meta, ok := loader.Metadata().Get("ErrKeyModule")
	if !ok {
		t.Fatal("name-keyed metadata entry should exist")
	}
	if meta.State != StateError {
		t.Errorf("name-keyed record must not stay in %s", meta.State)
	}
	stem, ok := loader.Metadata().Get("ldr-errkey-impl")
	if !ok || stem.State != StateError {
		t.Error("stem-keyed error record should exist too")
	}
}

func TestLoaderActivateFailureRollsBack(t *testing.T) {
	bad := newFakeModule("ldr-badactivate")
	bad.manifest.Routes = []ComponentRoute{{Template: "half-route", ComponentID: "c"}}
	bad.failActivate = errors.New("activate exploded")
	RegisterBuiltin("ldr-badactivate", func() Module { return bad })

	loader := newTestLoader(nil)
	ctx := context.Background()

	if _, err := loader.LoadModule(ctx, builtinDescriptor("ldr-badactivate")); err == nil {
		t.Fatal("expected load error")
	}
	if loader.Registry().IsRegistered("ldr-badactivate") {
		t.Error("registration should be rolled back")
	}
	if _, ok := loader.Routes().FindRoute("half-route"); ok {
		t.Error("routes should be rolled back")
	}
}

func writeDescriptorFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "modules.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing descriptor file: %v", err)
	}
	return path
}

func TestInitializeModulesRespectsLoadOrder(t *testing.T) {
	var order []string
	dash := newFakeModule("ldr-batch-dashboard")
	admin := newFakeModule("ldr-batch-admin")
	RegisterBuiltin("ldr-batch-dashboard", func() Module {
		order = append(order, "dashboard")
		return dash
	})
	RegisterBuiltin("ldr-batch-admin", func() Module {
		order = append(order, "admin")
		return admin
	})

	// Admin listed first but ordered after dashboard; a disabled module
	// sits in between and must be skipped.
	descriptor := `{
	  "Modules": [
	    {"name": "ldr-batch-admin", "assembly_file": "builtin:ldr-batch-admin", "enabled": true, "load_order": 2},
	    {"name": "ldr-batch-off", "assembly_file": "builtin:ldr-batch-off", "enabled": false, "load_order": 1},
	    {"name": "ldr-batch-dashboard", "assembly_file": "builtin:ldr-batch-dashboard", "enabled": true, "load_order": 1}
	  ]
	}`
	path := writeDescriptorFile(t, t.TempDir(), descriptor)

	loader := NewModuleLoader(LoaderConfig{
		DescriptorPath: path,
		SettleDelay:    time.Millisecond,
		Store:          NewMemoryModuleStore(),
		Logger:         NewTestLogger(),
	})
	if err := loader.InitializeModules(context.Background(), NewHostContext()); err != nil {
		t.Fatalf("batch failed: %v", err)
	}

	if len(order) != 2 || order[0] != "dashboard" || order[1] != "admin" {
		t.Errorf("expected dashboard before admin, got %v", order)
	}
	if loader.Registry().IsRegistered("ldr-batch-off") {
		t.Error("disabled module must not load")
	}
}

func TestInitializeModulesIsolatesFailures(t *testing.T) {
	good := newFakeModule("ldr-batch-good")
	bad := newFakeModule("ldr-batch-bad")
	bad.failInit = errors.New("nope")
	RegisterBuiltin("ldr-batch-good", func() Module { return good })
	RegisterBuiltin("ldr-batch-bad", func() Module { return bad })

	descriptor := `{
	  "Modules": [
	    {"name": "ldr-batch-bad", "assembly_file": "builtin:ldr-batch-bad", "enabled": true, "load_order": 1},
	    {"name": "ldr-batch-good", "assembly_file": "builtin:ldr-batch-good", "enabled": true, "load_order": 2}
	  ]
	}`
	path := writeDescriptorFile(t, t.TempDir(), descriptor)

	loader := NewModuleLoader(LoaderConfig{
		DescriptorPath: path,
		SettleDelay:    time.Millisecond,
		Store:          NewMemoryModuleStore(),
		Logger:         NewTestLogger(),
	})
	if err := loader.InitializeModules(context.Background(), NewHostContext()); err != nil {
		t.Fatalf("batch must not fail on a single module: %v", err)
	}

	if !loader.Registry().IsRegistered("ldr-batch-good") {
		t.Error("healthy module should load despite the earlier failure")
	}
	if loader.Registry().IsRegistered("ldr-batch-bad") {
		t.Error("failed module must not be registered")
	}
}

func TestInitializeModulesRunsOncePerHostContext(t *testing.T) {
	module := newFakeModule("ldr-once")
	RegisterBuiltin("ldr-once", func() Module { return module })

	descriptor := `{"Modules": [
	  {"name": "ldr-once", "assembly_file": "builtin:ldr-once", "enabled": true}
	]}`
	path := writeDescriptorFile(t, t.TempDir(), descriptor)

	logger := NewTestLogger()
	loader := NewModuleLoader(LoaderConfig{
		DescriptorPath: path,
		SettleDelay:    time.Millisecond,
		Store:          NewMemoryModuleStore(),
		Logger:         logger,
	})
	host := NewHostContext()
	ctx := context.Background()

	if err := loader.InitializeModules(ctx, host); err != nil {
		t.Fatalf("first batch failed: %v", err)
	}
	if err := loader.InitializeModules(ctx, host); err != nil {
		t.Fatalf("repeat batch must be a no-op, got: %v", err)
	}

	init, _, _ := module.counts()
	if init != 1 {
		t.Errorf("repeat batch must not reload modules, init=%d", init)
	}
	if !host.Initialized() {
		t.Error("host context should report initialized")
	}
}

func TestInitializeModulesRepeatReassertsRoutes(t *testing.T) {
	module := newFakeModule("ldr-reassert")
	module.manifest.Routes = []ComponentRoute{{Template: "reassert", ComponentID: "c"}}
	RegisterBuiltin("ldr-reassert", func() Module { return module })

	descriptor := `{"Modules": [
	  {"name": "ldr-reassert", "assembly_file": "builtin:ldr-reassert", "enabled": true}
	]}`
	path := writeDescriptorFile(t, t.TempDir(), descriptor)

	logger := NewTestLogger()
	loader := NewModuleLoader(LoaderConfig{
		DescriptorPath: path,
		SettleDelay:    time.Millisecond,
		Store:          NewMemoryModuleStore(),
		Logger:         logger,
	})
	host := NewHostContext()
	ctx := context.Background()

	if err := loader.InitializeModules(ctx, host); err != nil {
		t.Fatalf("first batch failed: %v", err)
	}
	if err := loader.InitializeModules(ctx, host); err != nil {
		t.Fatalf("repeat batch must succeed: %v", err)
	}

	if _, ok := loader.Routes().FindRoute("reassert"); !ok {
		t.Error("repeat batch should leave the route table fully asserted")
	}
	if !logger.HasMessage("WARN", "Module initialization already ran for this host context") {
		t.Error("repeat batch should be logged")
	}
}

func TestLoaderBuiltinFactoryReceivesCore(t *testing.T) {
	var received *CoreServices
	RegisterBuiltinFactory("ldr-difactory", func(core *CoreServices) Module {
		received = core
		return newFakeModule("ldr-difactory")
	})

	loader := newTestLoader(nil)
	if _, err := loader.LoadModule(context.Background(), builtinDescriptor("ldr-difactory")); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if received == nil {
		t.Fatal("factory builtins receive the host bundle at construction")
	}
	if received.Registry != loader.Registry() {
		t.Error("the bundle should expose the loader's own services")
	}
}

func TestLoaderMissingBinaryDisablesModule(t *testing.T) {
	store := NewMemoryModuleStore()
	ctx := context.Background()
	_ = store.UpsertModule(ctx, ModuleRecord{Name: "ghost", AssemblyFile: "ghost.bin", Enabled: true})

	loader := NewModuleLoader(LoaderConfig{
		ModulesDir:  t.TempDir(),
		SettleDelay: time.Millisecond,
		Store:       store,
		Logger:      NewTestLogger(),
	})

	desc := ModuleDescriptor{Name: "ghost", AssemblyFile: "ghost.bin", Enabled: true}
	if _, err := loader.LoadModule(ctx, desc); err == nil {
		t.Fatal("expected load failure for missing binary")
	}

	record, found, _ := store.GetModule(ctx, "ghost")
	if !found || record.Enabled {
		t.Error("missing binary should flip the persisted enabled flag off")
	}
	meta, ok := loader.Metadata().Get("ghost")
	if !ok || meta.State != StateError {
		t.Error("missing binary should leave an error metadata entry")
	}
}

func TestLoaderDependencyWarnsButLoads(t *testing.T) {
	module := newFakeModule("ldr-dependent")
	RegisterBuiltin("ldr-dependent", func() Module { return module })

	descriptor := `{"Modules": [
	  {"name": "ldr-dependent", "assembly_file": "builtin:ldr-dependent", "enabled": true,
	   "dependencies": ["ldr-nonexistent"]}
	]}`
	path := writeDescriptorFile(t, t.TempDir(), descriptor)

	logger := NewTestLogger()
	loader := NewModuleLoader(LoaderConfig{
		DescriptorPath: path,
		SettleDelay:    time.Millisecond,
		Store:          NewMemoryModuleStore(),
		Logger:         logger,
	})
	if err := loader.InitializeModules(context.Background(), NewHostContext()); err != nil {
		t.Fatalf("batch failed: %v", err)
	}

	if !loader.Registry().IsRegistered("ldr-dependent") {
		t.Error("unmet dependencies must not block loading")
	}
	if !logger.HasMessage("WARN", "Module dependency not loaded yet") {
		t.Error("unmet dependency should be logged")
	}
}

func TestLoaderEnableDisable(t *testing.T) {
	module := newFakeModule("ldr-toggle")
	RegisterBuiltin("ldr-toggle", func() Module { return module })

	descriptor := `{"Modules": [
	  {"name": "ldr-toggle", "assembly_file": "builtin:ldr-toggle", "enabled": true}
	]}`
	path := writeDescriptorFile(t, t.TempDir(), descriptor)

	loader := NewModuleLoader(LoaderConfig{
		DescriptorPath: path,
		SettleDelay:    time.Millisecond,
		Store:          NewMemoryModuleStore(),
		Logger:         NewTestLogger(),
	})
	ctx := context.Background()
	if err := loader.InitializeModules(ctx, NewHostContext()); err != nil {
		t.Fatalf("batch failed: %v", err)
	}

	result := loader.DisableModule(ctx, "ldr-toggle")
	if !result.Success {
		t.Fatalf("disable failed: %s (%v)", result.Message, result.Err)
	}
	if loader.Registry().IsRegistered("ldr-toggle") {
		t.Error("disabled module should be unloaded")
	}
	record, _, _ := loader.Store().GetModule(ctx, "ldr-toggle")
	if record.Enabled {
		t.Error("disabled flag should be persisted")
	}

	result = loader.EnableModule(ctx, "ldr-toggle")
	if !result.Success {
		t.Fatalf("enable failed: %s (%v)", result.Message, result.Err)
	}
	if !loader.Registry().IsRegistered("ldr-toggle") {
		t.Error("enable should load the module again")
	}
}

func TestLoaderDisableCoreRefused(t *testing.T) {
	module := newFakeModule("ldr-core")
	RegisterBuiltin("ldr-core", func() Module { return module })

	loader := newTestLoader(nil)
	ctx := context.Background()

	desc := builtinDescriptor("ldr-core")
	desc.IsCore = true
	if _, err := loader.LoadModule(ctx, desc); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	result := loader.DisableModule(ctx, "ldr-core")
	if result.Success {
		t.Error("core modules must not be disableable")
	}
	if !loader.Registry().IsRegistered("ldr-core") {
		t.Error("refused disable must leave the module loaded")
	}
}

func TestLoaderStatuses(t *testing.T) {
	module := newFakeModule("ldr-status")
	RegisterBuiltin("ldr-status", func() Module { return module })

	loader := newTestLoader(nil)
	ctx := context.Background()
	if _, err := loader.LoadModule(ctx, builtinDescriptor("ldr-status")); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	statuses := loader.Statuses()
	if len(statuses) != 1 {
		t.Fatalf("expected one status, got %d", len(statuses))
	}
	if statuses[0].Name != "ldr-status" || !statuses[0].Loaded || statuses[0].State != StateLoaded {
		t.Errorf("unexpected status: %+v", statuses[0])
	}
}

func TestLoaderShutdown(t *testing.T) {
	module := newFakeModule("ldr-shutdown")
	RegisterBuiltin("ldr-shutdown", func() Module { return module })

	loader := newTestLoader(nil)
	ctx := context.Background()
	if _, err := loader.LoadModule(ctx, builtinDescriptor("ldr-shutdown")); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if err := loader.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
	if loader.Registry().Count() != 0 {
		t.Error("shutdown should unload everything")
	}
	_, _, deactiv := module.counts()
	if deactiv != 1 {
		t.Errorf("expected deactivation during shutdown, got %d", deactiv)
	}
}
