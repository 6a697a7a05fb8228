// Package pkg provides shared utilities for the usbms host stack.
//
// This package contains common functionality used across every layer of
// the stack, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel error types for transport, protocol, and medium errors
//   - Component identifiers for log filtering
//   - DMA-aligned transfer buffer allocation
//
// The package is designed to have zero external dependencies, relying
// only on the Go standard library.
//
// # Logging
//
// The logging subsystem wraps [log/slog] with component context:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentDrive, "LUN started", "lun", 0)
//
// # Errors
//
// Common errors are defined as sentinel values:
//
//	if errors.Is(err, pkg.ErrStall) {
//	    // Handle endpoint stall
//	}
package pkg
