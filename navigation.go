// navigation.go: Aggregated navigation menu built from module manifests
//
// Copyright (c) 2025 ModShell contributors
// SPDX-License-Identifier: MPL-2.0

package modshell

import (
	"sort"
	"strings"
	"sync"
)

// NavigationNode is a navigation item with its resolved children, for
// rendering nested menus.
type NavigationNode struct {
	NavigationItem
	Module   string           `json:"module"`
	Children []NavigationNode `json:"children,omitempty"`
}

// NavigationService aggregates the navigation items every loaded module
// contributes and serves role-filtered views of the combined menu.
// It can follow a ModuleRegistry so entries appear and disappear with
// module registration.
type NavigationService struct {
	mu    sync.RWMutex
	items map[string][]NavigationItem

	logger Logger
}

// NewNavigationService creates an empty navigation service.
func NewNavigationService(logger Logger) *NavigationService {
	if logger == nil {
		logger = DefaultLogger()
	}
	return &NavigationService{
		items:  make(map[string][]NavigationItem),
		logger: logger,
	}
}

// RegisterModule replaces the navigation entries contributed by module.
func (ns *NavigationService) RegisterModule(module string, items []NavigationItem) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	if len(items) == 0 {
		delete(ns.items, strings.ToLower(module))
		return
	}
	copied := make([]NavigationItem, len(items))
	copy(copied, items)
	ns.items[strings.ToLower(module)] = copied
	ns.logger.Debug("Navigation registered", "module", module, "items", len(items))
}

// UnregisterModule removes a module's navigation entries.
func (ns *NavigationService) UnregisterModule(module string) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	delete(ns.items, strings.ToLower(module))
}

// roleAllowed reports whether an item is visible to the given role set.
// Items without a RequiredRole are visible to everyone.
func roleAllowed(item NavigationItem, roles []string) bool {
	if item.RequiredRole == "" {
		return true
	}
	for _, role := range roles {
		if strings.EqualFold(role, item.RequiredRole) {
			return true
		}
	}
	return false
}

// ItemsForRoles returns the flat, role-filtered menu, ordered by the
// items' Order field with label as tiebreaker.
func (ns *NavigationService) ItemsForRoles(roles ...string) []NavigationNode {
	ns.mu.RLock()
	defer ns.mu.RUnlock()

	var out []NavigationNode
	for module, items := range ns.items {
		for _, item := range items {
			if roleAllowed(item, roles) {
				out = append(out, NavigationNode{NavigationItem: item, Module: module})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// TreeForRoles returns the role-filtered menu nested by ParentID.
// Items whose parent is missing or filtered out become roots.
func (ns *NavigationService) TreeForRoles(roles ...string) []NavigationNode {
	flat := ns.ItemsForRoles(roles...)

	byID := make(map[string]int, len(flat))
	for i, node := range flat {
		if node.ID != "" {
			byID[node.ID] = i
		}
	}

	var roots []NavigationNode
	children := make(map[string][]NavigationNode)
	for _, node := range flat {
		if node.ParentID != "" {
			if _, ok := byID[node.ParentID]; ok {
				children[node.ParentID] = append(children[node.ParentID], node)
				continue
			}
		}
		roots = append(roots, node)
	}

	var attach func(node NavigationNode) NavigationNode
	attach = func(node NavigationNode) NavigationNode {
		for _, child := range children[node.ID] {
			node.Children = append(node.Children, attach(child))
		}
		return node
	}
	for i := range roots {
		roots[i] = attach(roots[i])
	}
	return roots
}

// FollowRegistry subscribes to a registry so navigation tracks module
// registration automatically. The returned subscription can be passed to
// registry.Unsubscribe to stop following.
func (ns *NavigationService) FollowRegistry(registry *ModuleRegistry) Subscription {
	return registry.Subscribe(func(event RegistryEvent) {
		switch event.Type {
		case ModuleRegistered:
			if module, ok := registry.Get(event.Info.Name); ok {
				ns.RegisterModule(event.Info.Name, module.Manifest().Navigation)
			}
		case ModuleUnregistered:
			ns.UnregisterModule(event.Info.Name)
		}
	})
}
