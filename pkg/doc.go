// Package pkg provides the shared infrastructure for the usblog module:
// sentinel error values used across the device stack and log channels, and
// a component-tagged logging facade over log/slog.
//
// The logging facade is for the stack's own diagnostics on hosted platforms
// (tests, simulators, the host tool). It is entirely separate from the log
// data that flows through the ring buffer to the USB host; that path is
// implemented in package logbuf and must never depend on this logger.
package pkg
