// testmod_test.go: Shared fake modules for the test suite
//
// Copyright (c) 2025 ModShell contributors
// SPDX-License-Identifier: MPL-2.0

package modshell

import (
	"context"
	"sync"
	"time"
)

// fakeModule is a fully featured test module implementing every optional
// capability. Behavior is steered through its fields.
type fakeModule struct {
	info     ModuleInfo
	manifest ModuleManifest

	failInit     error
	failActivate error

	mu           sync.Mutex
	initCount    int
	activeCount  int
	deactivCount int
	appliedCfg   map[string]any
	state        map[string]any
	services     map[string]any
	core         *CoreServices
}

func newFakeModule(name string) *fakeModule {
	return &fakeModule{
		info: ModuleInfo{
			Name:        name,
			DisplayName: name,
			Version:     "1.0.0",
		},
		state: make(map[string]any),
	}
}

func (m *fakeModule) Info() ModuleInfo         { return m.info }
func (m *fakeModule) Manifest() ModuleManifest { return m.manifest }

func (m *fakeModule) Initialize(_ context.Context, core *CoreServices) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failInit != nil {
		return m.failInit
	}
	m.initCount++
	m.core = core
	return nil
}

func (m *fakeModule) Activate(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failActivate != nil {
		return m.failActivate
	}
	m.activeCount++
	return nil
}

func (m *fakeModule) Deactivate(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deactivCount++
	return nil
}

func (m *fakeModule) RegisterServices(collection *ServiceCollection) error {
	for name, instance := range m.services {
		collection.AddInstance(name, instance)
	}
	return nil
}

func (m *fakeModule) ValidateConfig(map[string]any) error { return nil }

func (m *fakeModule) ApplyConfig(config map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appliedCfg = config
	return nil
}

func (m *fakeModule) CaptureState() (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]any, len(m.state))
	for k, v := range m.state {
		out[k] = v
	}
	return out, nil
}

func (m *fakeModule) RestoreState(state map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = make(map[string]any, len(state))
	for k, v := range state {
		m.state[k] = v
	}
	return nil
}

func (m *fakeModule) counts() (init, active, deactiv int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initCount, m.activeCount, m.deactivCount
}

// bareModule implements only the required Module interface, for tests
// exercising the optional-capability checks.
type bareModule struct {
	info     ModuleInfo
	manifest ModuleManifest
}

func (m *bareModule) Info() ModuleInfo                           { return m.info }
func (m *bareModule) Manifest() ModuleManifest                   { return m.manifest }
func (m *bareModule) Initialize(context.Context, *CoreServices) error { return nil }
func (m *bareModule) Activate(context.Context) error             { return nil }
func (m *bareModule) Deactivate(context.Context) error           { return nil }

// builtinDescriptor builds a descriptor for a builtin module registered
// under name.
func builtinDescriptor(name string) ModuleDescriptor {
	return ModuleDescriptor{
		Name:         name,
		DisplayName:  name,
		AssemblyFile: builtinPathPrefix + name,
		Enabled:      true,
	}
}

// newTestLoader wires a loader around a memory store and a test logger.
func newTestLoader(logger Logger) *ModuleLoader {
	if logger == nil {
		logger = NewTestLogger()
	}
	return NewModuleLoader(LoaderConfig{
		ModulesDir:     "testdata/modules",
		DescriptorPath: "testdata/modules.json",
		SettleDelay:    time.Millisecond,
		Store:          NewMemoryModuleStore(),
		Logger:         logger,
	})
}
