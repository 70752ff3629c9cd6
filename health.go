// health.go: gRPC health probing for module processes
//
// Copyright (c) 2025 ModShell contributors
// SPDX-License-Identifier: MPL-2.0

package modshell

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthChecker probes module processes that announced a gRPC health
// endpoint in their handshake. Builtins and processes without an
// endpoint are reported healthy by definition: there is nothing to ask.
type HealthChecker struct {
	timeout time.Duration
	logger  Logger
}

// NewHealthChecker creates a checker with the given per-probe timeout.
// A zero timeout defaults to five seconds.
func NewHealthChecker(timeout time.Duration, logger Logger) *HealthChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = DefaultLogger()
	}
	return &HealthChecker{timeout: timeout, logger: logger}
}

// Check probes one sandbox. It returns nil for sandboxes without a
// health endpoint and a retryable error when the probe fails or the
// module reports itself unhealthy.
func (hc *HealthChecker) Check(ctx context.Context, sandbox *ModuleSandbox) error {
	addr := sandbox.HealthAddr()
	if addr == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, hc.timeout)
	defer cancel()

	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return NewModuleHealthCheckError(sandbox.Name(), err)
	}
	defer func() { _ = conn.Close() }()

	client := grpc_health_v1.NewHealthClient(conn)
	resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	if err != nil {
		return NewModuleHealthCheckError(sandbox.Name(), err)
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		hc.logger.Warn("Module reported unhealthy",
			"module", sandbox.Name(),
			"status", resp.GetStatus().String())
		return NewModuleHealthCheckError(sandbox.Name(), nil)
	}
	return nil
}

// CheckAll probes every sandbox and returns the names of unhealthy ones.
func (hc *HealthChecker) CheckAll(ctx context.Context, loader *SandboxLoader) []string {
	var unhealthy []string
	for _, sandbox := range loader.Sandboxes() {
		if err := hc.Check(ctx, sandbox); err != nil {
			hc.logger.Warn("Health probe failed",
				"module", sandbox.Name(),
				"error", err)
			unhealthy = append(unhealthy, sandbox.Name())
		}
	}
	return unhealthy
}
