// panic_recovery.go: Panic recovery for observer and watcher goroutines
//
// Copyright (c) 2025 ModShell contributors
// SPDX-License-Identifier: MPL-2.0

package modshell

import (
	"runtime"
)

// withStackRecover returns a deferred recovery function that logs panic
// details with a full stack trace. Used on every goroutine the library
// spawns for observers and watch callbacks, so a panicking handler never
// crashes the host.
//
//	go func() {
//	    defer withStackRecover(logger)()
//	    handler(event)
//	}()
func withStackRecover(logger Logger) func() {
	return func() {
		if r := recover(); r != nil {
			buf := make([]byte, 64<<10)
			n := runtime.Stack(buf, false)
			logger.Error("Panic recovered in goroutine",
				"panic", r,
				"stack", string(buf[:n]))
		}
	}
}
