// navigation_test.go: Tests for the aggregated navigation menu
//
// Copyright (c) 2025 ModShell contributors
// SPDX-License-Identifier: MPL-2.0

package modshell

import (
	"testing"
	"time"
)

func TestNavigationRoleFiltering(t *testing.T) {
	ns := NewNavigationService(NewTestLogger())
	ns.RegisterModule("admin", []NavigationItem{
		{ID: "users", Label: "Users", Path: "/admin/users", RequiredRole: "Administrator", Order: 2},
	})
	ns.RegisterModule("dashboard", []NavigationItem{
		{ID: "home", Label: "Home", Path: "/dashboard", Order: 1},
	})

	everyone := ns.ItemsForRoles()
	if len(everyone) != 1 || everyone[0].ID != "home" {
		t.Fatalf("anonymous users should see only unrestricted items, got %d", len(everyone))
	}

	admins := ns.ItemsForRoles("administrator")
	if len(admins) != 2 {
		t.Fatalf("role match should be case-insensitive, got %d items", len(admins))
	}
	if admins[0].ID != "home" || admins[1].ID != "users" {
		t.Error("items should be sorted by Order")
	}
}

func TestNavigationReplaceAndUnregister(t *testing.T) {
	ns := NewNavigationService(NewTestLogger())
	ns.RegisterModule("reports", []NavigationItem{{ID: "old", Label: "Old", Path: "/old"}})
	ns.RegisterModule("reports", []NavigationItem{{ID: "new", Label: "New", Path: "/new"}})

	items := ns.ItemsForRoles()
	if len(items) != 1 || items[0].ID != "new" {
		t.Error("re-registration replaces a module's items")
	}

	ns.UnregisterModule("reports")
	if len(ns.ItemsForRoles()) != 0 {
		t.Error("unregister removes the module's items")
	}
}

func TestNavigationTree(t *testing.T) {
	ns := NewNavigationService(NewTestLogger())
	ns.RegisterModule("reports", []NavigationItem{
		{ID: "reports", Label: "Reports", Path: "/reports", Order: 1},
		{ID: "monthly", Label: "Monthly", Path: "/reports/monthly", ParentID: "reports", Order: 1},
		{ID: "secret", Label: "Secret", Path: "/reports/secret", ParentID: "missing-parent", Order: 2},
	})

	tree := ns.TreeForRoles()
	if len(tree) != 2 {
		t.Fatalf("expected root plus orphan, got %d roots", len(tree))
	}

	var reports *NavigationNode
	for i := range tree {
		if tree[i].ID == "reports" {
			reports = &tree[i]
		}
	}
	if reports == nil {
		t.Fatal("reports root missing")
	}
	if len(reports.Children) != 1 || reports.Children[0].ID != "monthly" {
		t.Errorf("expected monthly under reports, got %+v", reports.Children)
	}
}

func TestNavigationFollowsRegistry(t *testing.T) {
	logger := NewTestLogger()
	registry := NewModuleRegistry(logger)
	ns := NewNavigationService(logger)
	sub := ns.FollowRegistry(registry)
	defer registry.Unsubscribe(sub)

	module := newFakeModule("nav-follow")
	module.manifest.Navigation = []NavigationItem{{ID: "f", Label: "Followed", Path: "/f"}}
	registry.Register(module)

	waitFor(t, func() bool { return len(ns.ItemsForRoles()) == 1 })

	registry.Unregister("nav-follow")
	waitFor(t, func() bool { return len(ns.ItemsForRoles()) == 0 })
}

// waitFor polls until the condition holds or the test times out.
// Registry observers run on goroutines, so navigation updates land
// asynchronously.
func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
