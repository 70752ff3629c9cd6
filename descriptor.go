// descriptor.go: Static module descriptor file loading and validation
//
// The descriptor file is the startup configuration source: one entry per
// module, read once from a fixed path relative to the host's base
// directory. Entries are immutable during a run except through explicit
// admin update operations.
//
// Copyright (c) 2025 ModShell contributors
// SPDX-License-Identifier: MPL-2.0

package modshell

import (
	"encoding/json"
	"os"
	"sort"
	"strings"

	"github.com/agilira/argus"
	"gopkg.in/yaml.v3"
)

// ModuleDescriptor describes one module in the descriptor file.
//
// AssemblyFile names the module binary relative to the modules directory;
// the special "builtin:<name>" form resolves a registered in-process
// constructor instead of a file. LoadOrder defines the activation
// sequence (ascending). Dependencies list module names that should be
// registered first; unmet dependencies produce a warning, never a block.
type ModuleDescriptor struct {
	Name            string           `json:"name" yaml:"name"`
	DisplayName     string           `json:"display_name" yaml:"display_name"`
	Description     string           `json:"description,omitempty" yaml:"description,omitempty"`
	AssemblyFile    string           `json:"assembly_file" yaml:"assembly_file"`
	EntryPoint      string           `json:"entry_point,omitempty" yaml:"entry_point,omitempty"`
	Version         string           `json:"version,omitempty" yaml:"version,omitempty"`
	Author          string           `json:"author,omitempty" yaml:"author,omitempty"`
	Category        string           `json:"category,omitempty" yaml:"category,omitempty"`
	Icon            string           `json:"icon,omitempty" yaml:"icon,omitempty"`
	Enabled         bool             `json:"enabled" yaml:"enabled"`
	LoadOrder       int              `json:"load_order" yaml:"load_order"`
	Dependencies    []string         `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	RequiredRole    string           `json:"required_role,omitempty" yaml:"required_role,omitempty"`
	IsCore          bool             `json:"is_core,omitempty" yaml:"is_core,omitempty"`
	Configuration   map[string]any   `json:"configuration,omitempty" yaml:"configuration,omitempty"`
	Navigation      []NavigationItem `json:"navigation,omitempty" yaml:"navigation,omitempty"`
	PermissionNames []string         `json:"permissions,omitempty" yaml:"permissions,omitempty"`
}

// DescriptorFile is the top-level shape of the module descriptor file.
type DescriptorFile struct {
	Modules []ModuleDescriptor `json:"Modules" yaml:"Modules"`
}

// LoadDescriptorFile reads and parses the descriptor file at path.
// JSON and YAML are supported; the format is detected from the file
// extension. A missing file or parse failure is returned as a structured
// error; descriptor unreadability is the one fatal condition in the
// startup batch.
func LoadDescriptorFile(path string) (*DescriptorFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewDescriptorNotFoundError(path)
		}
		return nil, NewDescriptorParseError(path, err)
	}

	var file DescriptorFile
	switch argus.DetectFormat(path) {
	case argus.FormatYAML:
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, NewDescriptorParseError(path, err)
		}
	default:
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, NewDescriptorParseError(path, err)
		}
	}

	if err := file.Validate(); err != nil {
		return nil, err
	}
	return &file, nil
}

// Validate checks descriptor invariants: non-empty unique names and a
// binary reference per module.
func (f *DescriptorFile) Validate() error {
	seen := make(map[string]struct{}, len(f.Modules))
	for _, desc := range f.Modules {
		name := strings.TrimSpace(desc.Name)
		if name == "" {
			return NewInvalidModuleNameError(desc.Name)
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			return NewDuplicateModuleNameError(desc.Name)
		}
		seen[key] = struct{}{}
		if strings.TrimSpace(desc.AssemblyFile) == "" {
			return NewMissingAssemblyFileError(desc.Name)
		}
	}
	return nil
}

// EnabledSorted returns the enabled descriptors sorted by load order
// ascending. Ties keep the file order (stable sort), so the descriptor
// file remains the tiebreaker.
func (f *DescriptorFile) EnabledSorted() []ModuleDescriptor {
	enabled := make([]ModuleDescriptor, 0, len(f.Modules))
	for _, desc := range f.Modules {
		if desc.Enabled {
			enabled = append(enabled, desc)
		}
	}
	sort.SliceStable(enabled, func(i, j int) bool {
		return enabled[i].LoadOrder < enabled[j].LoadOrder
	})
	return enabled
}

// IsBuiltin reports whether the descriptor references an in-process
// builtin module instead of a binary on disk.
func (d *ModuleDescriptor) IsBuiltin() bool {
	return strings.HasPrefix(d.AssemblyFile, builtinPathPrefix)
}
