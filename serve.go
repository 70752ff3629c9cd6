// serve.go: Module-process side of the stdio protocol
//
// Copyright (c) 2025 ModShell contributors
// SPDX-License-Identifier: MPL-2.0

package modshell

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// ServeOptions configures the protocol loop of a module binary.
type ServeOptions struct {
	// HealthAddr, when set, is announced in the handshake so the host
	// can probe the module's gRPC health endpoint. Serving that
	// endpoint is the module's own responsibility.
	HealthAddr string

	// Logger receives protocol diagnostics. Module binaries must not
	// write free-form text to stdout (it would corrupt the protocol
	// stream), so this logger should go to stderr or a file.
	Logger Logger

	// Stdin and Stdout override the protocol streams, for tests.
	Stdin  io.Reader
	Stdout io.Writer
}

// Serve runs a module binary's side of the host protocol: announce the
// handshake, then answer lifecycle requests until shutdown or EOF.
// Call it from the module's main function and exit with its error.
func Serve(module Module, options ServeOptions) error {
	logger := options.Logger
	if logger == nil {
		logger = DefaultLogger()
	}
	stdin := options.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}
	stdout := options.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	payload, err := json.Marshal(handshakePayload{
		Info:       module.Info(),
		Manifest:   module.Manifest(),
		HealthAddr: options.HealthAddr,
	})
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(stdout, "%s|%s|%s\n", handshakeMagic, protocolVersion, payload); err != nil {
		return err
	}

	encoder := json.NewEncoder(stdout)
	scanner := bufio.NewScanner(stdin)
	ctx := ContextWithLogger(context.Background(), logger)

	// Modules across the process boundary see only their own logger;
	// host services stay on the host side.
	core := &CoreServices{Logger: logger}

	for scanner.Scan() {
		var req moduleRequest
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			logger.Warn("Dropping malformed request frame", "error", err)
			if err := encoder.Encode(moduleResponse{OK: false, Error: "malformed request"}); err != nil {
				return err
			}
			continue
		}

		resp := dispatch(ctx, module, core, req)
		if err := encoder.Encode(resp); err != nil {
			return err
		}
		if req.Op == "shutdown" {
			return nil
		}
	}
	return scanner.Err()
}

func dispatch(ctx context.Context, module Module, core *CoreServices, req moduleRequest) moduleResponse {
	fail := func(err error) moduleResponse {
		return moduleResponse{OK: false, Error: err.Error()}
	}

	switch req.Op {
	case "initialize":
		if validator, ok := module.(ConfigValidator); ok && len(req.Config) > 0 {
			if err := validator.ValidateConfig(req.Config); err != nil {
				return fail(err)
			}
			if err := validator.ApplyConfig(req.Config); err != nil {
				return fail(err)
			}
		}
		if err := module.Initialize(ctx, core); err != nil {
			return fail(err)
		}
		return moduleResponse{OK: true}

	case "activate":
		if err := module.Activate(ctx); err != nil {
			return fail(err)
		}
		return moduleResponse{OK: true}

	case "deactivate":
		if err := module.Deactivate(ctx); err != nil {
			return fail(err)
		}
		return moduleResponse{OK: true}

	case "capture_state":
		if stateful, ok := module.(Stateful); ok {
			state, err := stateful.CaptureState()
			if err != nil {
				return fail(err)
			}
			return moduleResponse{OK: true, State: state}
		}
		return moduleResponse{OK: true}

	case "restore_state":
		if stateful, ok := module.(Stateful); ok {
			if err := stateful.RestoreState(req.State); err != nil {
				return fail(err)
			}
		}
		return moduleResponse{OK: true}

	case "shutdown":
		if err := module.Deactivate(ctx); err != nil {
			// Shutdown proceeds regardless; report success so the host
			// does not escalate to a kill.
			core.Logger.Warn("Deactivate during shutdown failed", "error", err)
		}
		return moduleResponse{OK: true}

	default:
		return moduleResponse{OK: false, Error: "unknown operation: " + req.Op}
	}
}
