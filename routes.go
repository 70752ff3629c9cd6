// routes.go: Dynamic route table mapping paths to module component IDs
//
// Copyright (c) 2025 ModShell contributors
// SPDX-License-Identifier: MPL-2.0

package modshell

import (
	"strings"
	"sync"
)

// RouteEntry is one row of the shared route table.
//
// Priority is derived from template specificity (exact templates rank
// above parameterized ones, longer templates above shorter ones). Note
// that FindRoute's fallback matching deliberately does NOT consult
// Priority; the first matching template in registration order wins.
// Callers that need precise ranking must sort candidates by Priority
// themselves.
type RouteEntry struct {
	Template    string `json:"template"`
	ComponentID string `json:"component_id"`
	Module      string `json:"module"`
	Source      string `json:"source,omitempty"`
	Priority    int    `json:"priority"`
}

// RouteInfo is the result of a successful route lookup: the matched entry
// plus any {parameter} segment values extracted from the path.
type RouteInfo struct {
	RouteEntry
	Params map[string]string `json:"params,omitempty"`
}

// routeRegistration remembers a module's manifest so Refresh can rebuild
// the full table from scratch.
type routeRegistration struct {
	module string
	source string
	routes []ComponentRoute
}

// RouteService owns the shared route table. A single reader/writer lock
// guards the whole table: lookups run concurrently with each other and
// exclude writers, so a reader never observes a half-updated route set.
//
// Template collisions across modules are a documented design choice, not
// silently safe: the newest registration wins and the conflict is logged,
// so routes from an earlier module can be shadowed by a later one sharing
// the same template.
type RouteService struct {
	mu sync.RWMutex

	// entries keyed by normalized template; order preserves registration
	// sequence for the parameterized fallback scan.
	entries map[string]*RouteEntry
	order   []string

	// registrations keyed by lower-cased module name, for replace
	// semantics and full rebuilds.
	registrations map[string]routeRegistration

	logger Logger
}

// NewRouteService creates an empty route service.
func NewRouteService(logger Logger) *RouteService {
	if logger == nil {
		logger = DefaultLogger()
	}
	return &RouteService{
		entries:       make(map[string]*RouteEntry),
		registrations: make(map[string]routeRegistration),
		logger:        logger,
	}
}

// normalizeTemplate strips the leading slash and surrounding whitespace.
// The empty template ("" or "/") is the application root.
func normalizeTemplate(template string) string {
	return strings.TrimPrefix(strings.TrimSpace(template), "/")
}

// templatePriority derives a specificity score: exact templates beat
// parameterized ones, longer templates beat shorter ones.
func templatePriority(template string) int {
	if template == "" {
		return 0
	}
	segments := strings.Split(template, "/")
	priority := len(segments) * 10
	exact := true
	for _, seg := range segments {
		if isParamSegment(seg) {
			exact = false
		} else {
			priority++
		}
	}
	if exact {
		priority += 1000
	}
	return priority
}

func isParamSegment(segment string) bool {
	return strings.HasPrefix(segment, "{") && strings.HasSuffix(segment, "}") && len(segment) > 2
}

// RegisterModuleRoutes inserts a module's routes into the shared table.
// If the module was registered before, its old routes are fully removed
// first (replace semantics). Collisions with templates owned by a
// different module log a conflict and overwrite (last-write-wins).
func (rs *RouteService) RegisterModuleRoutes(moduleName, source string, routes []ComponentRoute) {
	key := strings.ToLower(moduleName)

	rs.mu.Lock()
	defer rs.mu.Unlock()

	if _, seen := rs.registrations[key]; seen {
		rs.removeModuleRoutesLocked(moduleName)
	}
	rs.registrations[key] = routeRegistration{module: moduleName, source: source, routes: routes}
	rs.insertRoutesLocked(moduleName, source, routes)

	rs.logger.Debug("Module routes registered",
		"module", moduleName,
		"routes", len(routes))
}

// insertRoutesLocked adds entries for the given routes. Caller holds the
// write lock.
func (rs *RouteService) insertRoutesLocked(moduleName, source string, routes []ComponentRoute) {
	for _, route := range routes {
		template := normalizeTemplate(route.Template)
		if existing, ok := rs.entries[template]; ok {
			if !strings.EqualFold(existing.Module, moduleName) {
				rs.logger.Warn("Route template conflict, newest registration wins",
					"template", template,
					"previous_module", existing.Module,
					"new_module", moduleName)
			}
			rs.removeFromOrderLocked(template)
		}
		rs.entries[template] = &RouteEntry{
			Template:    template,
			ComponentID: route.ComponentID,
			Module:      moduleName,
			Source:      source,
			Priority:    templatePriority(template),
		}
		rs.order = append(rs.order, template)
	}
}

// UnregisterModuleRoutes removes every route owned by moduleName and
// forgets its manifest registration.
func (rs *RouteService) UnregisterModuleRoutes(moduleName string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	rs.removeModuleRoutesLocked(moduleName)
	delete(rs.registrations, strings.ToLower(moduleName))
	rs.logger.Debug("Module routes unregistered", "module", moduleName)
}

// removeModuleRoutesLocked drops all table entries owned by moduleName.
// Caller holds the write lock.
func (rs *RouteService) removeModuleRoutesLocked(moduleName string) {
	for template, entry := range rs.entries {
		if strings.EqualFold(entry.Module, moduleName) {
			delete(rs.entries, template)
			rs.removeFromOrderLocked(template)
		}
	}
}

func (rs *RouteService) removeFromOrderLocked(template string) {
	for i, t := range rs.order {
		if t == template {
			rs.order = append(rs.order[:i], rs.order[i+1:]...)
			return
		}
	}
}

// FindRoute resolves a request path to a route entry.
//
// The lookup tries an exact template match first (O(1)), then falls back
// to a linear scan of parameterized templates in registration order:
// {param} segments match any single path segment, segment counts must be
// equal, and literal segments compare case-insensitively. The first
// matching template wins, not necessarily the most specific one.
func (rs *RouteService) FindRoute(path string) (RouteInfo, bool) {
	normalized := normalizeTemplate(path)

	rs.mu.RLock()
	defer rs.mu.RUnlock()

	if entry, ok := rs.entries[normalized]; ok {
		return RouteInfo{RouteEntry: *entry}, true
	}

	pathSegments := strings.Split(normalized, "/")
	for _, template := range rs.order {
		entry := rs.entries[template]
		if params, ok := matchTemplate(template, pathSegments); ok {
			return RouteInfo{RouteEntry: *entry, Params: params}, true
		}
	}
	return RouteInfo{}, false
}

// matchTemplate matches path segments against a parameterized template.
func matchTemplate(template string, pathSegments []string) (map[string]string, bool) {
	templateSegments := strings.Split(template, "/")
	if len(templateSegments) != len(pathSegments) {
		return nil, false
	}

	var params map[string]string
	hasParam := false
	for i, seg := range templateSegments {
		if isParamSegment(seg) {
			hasParam = true
			if params == nil {
				params = make(map[string]string)
			}
			params[seg[1:len(seg)-1]] = pathSegments[i]
			continue
		}
		if !strings.EqualFold(seg, pathSegments[i]) {
			return nil, false
		}
	}
	if !hasParam {
		// Exact templates are handled by the map lookup; reaching here
		// without params means the case-insensitive comparison matched a
		// differently-cased exact template.
		return nil, true
	}
	return params, true
}

// Routes returns a snapshot of the current table.
func (rs *RouteService) Routes() []RouteEntry {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	out := make([]RouteEntry, 0, len(rs.entries))
	for _, template := range rs.order {
		out = append(out, *rs.entries[template])
	}
	return out
}

// RoutesForModule returns the entries owned by moduleName.
func (rs *RouteService) RoutesForModule(moduleName string) []RouteEntry {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	out := make([]RouteEntry, 0)
	for _, template := range rs.order {
		entry := rs.entries[template]
		if strings.EqualFold(entry.Module, moduleName) {
			out = append(out, *entry)
		}
	}
	return out
}

// Refresh rebuilds the entire table from every tracked registration.
// The rebuild runs under the write lock, so readers either see the old
// table or the new one, never a partial state.
func (rs *RouteService) Refresh() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	rs.entries = make(map[string]*RouteEntry)
	rs.order = rs.order[:0]
	for _, reg := range rs.registrations {
		rs.insertRoutesLocked(reg.module, reg.source, reg.routes)
	}
	rs.logger.Debug("Route table rebuilt", "routes", len(rs.entries))
}

// RefreshAsync schedules a full rebuild without blocking the caller and
// returns a channel that closes when the rebuild completes.
func (rs *RouteService) RefreshAsync() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer withStackRecover(rs.logger)()
		rs.Refresh()
	}()
	return done
}
