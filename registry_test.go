// registry_test.go: Tests for the module registry
//
// Copyright (c) 2025 ModShell contributors
// SPDX-License-Identifier: MPL-2.0

package modshell

import (
	"sync"
	"testing"
	"time"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	registry := NewModuleRegistry(NewTestLogger())
	module := newFakeModule("Dashboard")

	if !registry.Register(module) {
		t.Fatal("first registration should succeed")
	}
	got, ok := registry.Get("dashboard")
	if !ok {
		t.Fatal("lookup should be case-insensitive")
	}
	if got.Info().Name != "Dashboard" {
		t.Errorf("unexpected module: %s", got.Info().Name)
	}
	if registry.Count() != 1 {
		t.Errorf("expected count 1, got %d", registry.Count())
	}
}

func TestRegistryFirstRegistrationWins(t *testing.T) {
	logger := NewTestLogger()
	registry := NewModuleRegistry(logger)

	first := newFakeModule("reports")
	impostor := newFakeModule("Reports")
	impostor.info.Version = "9.9.9"

	registry.Register(first)
	if registry.Register(impostor) {
		t.Fatal("duplicate registration should be rejected")
	}

	got, _ := registry.Get("reports")
	if got.Info().Version != "1.0.0" {
		t.Error("original registration must survive a duplicate attempt")
	}
	if !logger.HasMessage("WARN", "Module already registered, keeping first registration") {
		t.Error("duplicate registration should be logged")
	}
}

func TestRegistryUnregisterUnknownIsNoOp(t *testing.T) {
	logger := NewTestLogger()
	registry := NewModuleRegistry(logger)

	if registry.Unregister("ghost") {
		t.Error("unregistering an unknown module should report false")
	}
	if !logger.HasMessage("WARN", "Unregister of unknown module") {
		t.Error("expected a warning for the unknown name")
	}
}

func TestRegistryObserverNotifications(t *testing.T) {
	registry := NewModuleRegistry(NewTestLogger())

	var mu sync.Mutex
	var events []RegistryEvent
	done := make(chan struct{}, 2)

	sub := registry.Subscribe(func(event RegistryEvent) {
		mu.Lock()
		events = append(events, event)
		mu.Unlock()
		done <- struct{}{}
	})
	defer registry.Unsubscribe(sub)

	module := newFakeModule("dashboard")
	registry.Register(module)
	registry.Unregister("dashboard")

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for observer notifications")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	seen := map[RegistryEventType]bool{}
	for _, event := range events {
		seen[event.Type] = true
		if event.Info.Name != "dashboard" {
			t.Errorf("unexpected event module: %s", event.Info.Name)
		}
	}
	if !seen[ModuleRegistered] || !seen[ModuleUnregistered] {
		t.Error("expected both registered and unregistered events")
	}
}

func TestRegistryObserverPanicIsContained(t *testing.T) {
	logger := NewTestLogger()
	registry := NewModuleRegistry(logger)

	calmCh := make(chan struct{}, 1)
	registry.Subscribe(func(RegistryEvent) { panic("observer bug") })
	registry.Subscribe(func(RegistryEvent) { calmCh <- struct{}{} })

	registry.Register(newFakeModule("dashboard"))

	select {
	case <-calmCh:
	case <-time.After(2 * time.Second):
		t.Fatal("well-behaved observer should still be notified")
	}
}

func TestRegistryModulesByCategory(t *testing.T) {
	registry := NewModuleRegistry(NewTestLogger())

	admin := newFakeModule("admin")
	admin.info.Category = "Administration"
	dash := newFakeModule("dashboard")
	dash.info.Category = "General"

	registry.Register(admin)
	registry.Register(dash)

	got := registry.ModulesByCategory("administration")
	if len(got) != 1 || got[0].Info().Name != "admin" {
		t.Fatalf("expected only admin in administration, got %d entries", len(got))
	}
}

func TestRegistryUnsubscribeStopsNotifications(t *testing.T) {
	registry := NewModuleRegistry(NewTestLogger())

	notified := make(chan struct{}, 4)
	sub := registry.Subscribe(func(RegistryEvent) { notified <- struct{}{} })

	registry.Register(newFakeModule("a"))
	select {
	case <-notified:
	case <-time.After(2 * time.Second):
		t.Fatal("expected notification before unsubscribe")
	}

	registry.Unsubscribe(sub)
	registry.Register(newFakeModule("b"))

	select {
	case <-notified:
		t.Error("unexpected notification after unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}
}
