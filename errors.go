// errors.go: structured error definitions for the modshell module system
//
// Copyright (c) 2025 ModShell contributors
// SPDX-License-Identifier: MPL-2.0

package modshell

import (
	"github.com/agilira/go-errors"
)

// Error codes for the modshell module system
const (
	// Descriptor and configuration errors (1000-1099)
	ErrCodeInvalidModuleName    = "MODULE_1001"
	ErrCodeDescriptorNotFound   = "MODULE_1002"
	ErrCodeDescriptorParseError = "MODULE_1003"
	ErrCodeDuplicateModuleName  = "MODULE_1004"
	ErrCodeInvalidConfiguration = "MODULE_1005"

	// Module lifecycle errors (1100-1199)
	ErrCodeModuleNotFound     = "MODULE_1101"
	ErrCodeModuleNotEnabled   = "MODULE_1102"
	ErrCodeModuleLoadFailed   = "MODULE_1103"
	ErrCodeModuleInitFailed   = "MODULE_1104"
	ErrCodeModuleUnloadFailed = "MODULE_1105"
	ErrCodeModuleReloadFailed = "MODULE_1106"

	// Sandbox errors (1200-1299)
	ErrCodeSandboxLoadError   = "SANDBOX_1201"
	ErrCodeSandboxUnloadError = "SANDBOX_1202"
	ErrCodeHandshakeError     = "SANDBOX_1203"
	ErrCodeProtocolError      = "SANDBOX_1204"
	ErrCodeBuiltinNotFound    = "SANDBOX_1205"

	// Registry errors (1300-1399)
	ErrCodeRegistryError = "REGISTRY_1301"

	// Route errors (1400-1499)
	ErrCodeRouteError    = "ROUTE_1401"
	ErrCodeRouteNotFound = "ROUTE_1402"

	// Service provider errors (1500-1599)
	ErrCodeServiceError        = "SERVICE_1501"
	ErrCodeServiceNotFound     = "SERVICE_1502"
	ErrCodeServiceResolution   = "SERVICE_1503"
	ErrCodeServiceTypeMismatch = "SERVICE_1504"

	// Persistence errors (1600-1699)
	ErrCodeStoreError = "STORE_1601"

	// Health check errors (1700-1799)
	ErrCodeHealthCheckFailed = "HEALTH_1701"
)

// Descriptor and configuration error constructors

func NewInvalidModuleNameError(name string) *errors.Error {
	return errors.New(ErrCodeInvalidModuleName, "Invalid module name").
		WithUserMessage("Module name is required and cannot be empty").
		WithContext("provided_name", name).
		WithSeverity("error")
}

func NewDescriptorNotFoundError(path string) *errors.Error {
	return errors.New(ErrCodeDescriptorNotFound, "Module descriptor file not found").
		WithUserMessage("The module descriptor file could not be found").
		WithContext("descriptor_path", path).
		WithSeverity("error")
}

func NewDescriptorParseError(path string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeDescriptorParseError, "Module descriptor parse error").
		WithUserMessage("Failed to parse module descriptor file").
		WithContext("descriptor_path", path).
		WithSeverity("error")
}

func NewDuplicateModuleNameError(name string) *errors.Error {
	return errors.New(ErrCodeDuplicateModuleName, "Duplicate module name").
		WithUserMessage("Module names must be unique within the descriptor file").
		WithContext("module_name", name).
		WithSeverity("error")
}

func NewMissingAssemblyFileError(name string) *errors.Error {
	return errors.New(ErrCodeInvalidConfiguration, "Missing assembly file").
		WithUserMessage("Every module descriptor must reference a binary or builtin").
		WithContext("module_name", name).
		WithSeverity("error")
}

func NewInvalidConfigurationError(name string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeInvalidConfiguration, "Invalid module configuration").
		WithUserMessage("Module configuration validation failed").
		WithContext("module_name", name).
		WithSeverity("error")
}

// Module lifecycle error constructors

func NewModuleNotFoundError(name string) *errors.Error {
	return errors.New(ErrCodeModuleNotFound, "Module not found").
		WithUserMessage("The requested module is not registered").
		WithContext("module_name", name).
		WithSeverity("error")
}

func NewModuleNotEnabledError(name string) *errors.Error {
	return errors.New(ErrCodeModuleNotEnabled, "Module not enabled").
		WithUserMessage("The requested module is not enabled").
		WithContext("module_name", name).
		WithSeverity("warning")
}

func NewModuleLoadFailedError(name string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeModuleLoadFailed, "Module load failed").
		WithUserMessage("The module could not be loaded").
		WithContext("module_name", name).
		WithSeverity("error")
}

func NewModuleInitFailedError(name string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeModuleInitFailed, "Module initialization failed").
		WithUserMessage("The module failed to initialize or activate").
		WithContext("module_name", name).
		WithSeverity("error")
}

func NewModuleUnloadFailedError(name string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeModuleUnloadFailed, "Module unload failed").
		WithUserMessage("The module could not be unloaded cleanly").
		WithContext("module_name", name).
		WithSeverity("error")
}

func NewModuleReloadFailedError(name string, message string) *errors.Error {
	return errors.New(ErrCodeModuleReloadFailed, "Module reload failed: "+message).
		WithUserMessage("The module could not be reloaded").
		WithContext("module_name", name).
		WithSeverity("error")
}

// Sandbox error constructors

func NewSandboxLoadError(path string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeSandboxLoadError, "Sandbox load error").
		WithUserMessage("Failed to load module binary into a sandbox").
		WithContext("module_path", path).
		WithSeverity("error")
}

func NewSandboxUnloadError(name string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeSandboxUnloadError, "Sandbox unload error").
		WithUserMessage("Failed to unload module sandbox").
		WithContext("module_name", name).
		WithSeverity("error")
}

func NewModuleHandshakeError(message string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeHandshakeError, "Handshake error: "+message).
		WithUserMessage("Module handshake failed").
		WithSeverity("error")
}

func NewModuleProtocolError(message string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeProtocolError, "Protocol error: "+message).
		WithUserMessage("Module sandbox communication failed").
		WithSeverity("error").
		AsRetryable()
}

func NewBuiltinNotFoundError(name string) *errors.Error {
	return errors.New(ErrCodeBuiltinNotFound, "Builtin module not found").
		WithUserMessage("No builtin module constructor is registered under this name").
		WithContext("builtin_name", name).
		WithSeverity("error")
}

// Registry error constructors

func NewModuleRegistryError(message string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeRegistryError, "Registry error: "+message).
		WithUserMessage("Module registry operation failed").
		WithSeverity("error")
}

// Route error constructors

func NewRouteError(message string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeRouteError, "Route error: "+message).
		WithUserMessage("Route table operation failed").
		WithSeverity("error")
}

func NewRouteNotFoundError(path string) *errors.Error {
	return errors.New(ErrCodeRouteNotFound, "Route not found").
		WithUserMessage("No registered route matches the requested path").
		WithContext("path", path).
		WithSeverity("warning")
}

// Service provider error constructors

func NewServiceError(message string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeServiceError, "Service error: "+message).
		WithUserMessage("Module service container operation failed").
		WithSeverity("error")
}

func NewServiceNotFoundError(module, service string) *errors.Error {
	return errors.New(ErrCodeServiceNotFound, "Service not found").
		WithUserMessage("The requested service is not registered in the module's scope").
		WithContext("module_name", module).
		WithContext("service", service).
		WithSeverity("warning")
}

func NewServiceResolutionError(module, service string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeServiceResolution, "Service factory failed").
		WithUserMessage("A module service could not be constructed").
		WithContext("module_name", module).
		WithContext("service", service).
		WithSeverity("error")
}

func NewServiceTypeMismatchError(module, service string) *errors.Error {
	return errors.New(ErrCodeServiceTypeMismatch, "Service type mismatch").
		WithUserMessage("The resolved service does not have the requested type").
		WithContext("module_name", module).
		WithContext("service", service).
		WithSeverity("error")
}

// Persistence error constructors

func NewStoreError(message string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeStoreError, "Store error: "+message).
		WithUserMessage("Module store operation failed").
		WithSeverity("error")
}

// Health check error constructors

func NewModuleHealthCheckError(name string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeHealthCheckFailed, "Health check failed").
		WithUserMessage("Module health check failed").
		WithContext("module_name", name).
		WithSeverity("warning").
		AsRetryable()
}
