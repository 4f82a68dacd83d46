// Package log provides structured protocol capture for token sessions.
//
// It is separate from operational logging (slog): protocol capture is a
// machine-readable trace of every frame, command and state change, intended
// for offline analysis with the hwlite-log tool.
//
// # Basic Usage
//
//	// Console, for development
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// Binary file
//	cfg.ProtocolLogger, _ = log.NewFileLogger("/var/log/hwlite/host.hwlog")
//
//	// Both
//	cfg.ProtocolLogger = log.NewMultiLogger(console, file)
//
// # Layers
//
//   - Transport: raw APDU frames (FrameEvent)
//   - Codec: command name and status word (CommandEvent)
//   - Session: state machine transitions (StateChangeEvent)
//
// Errors at any layer use ErrorEventData. Command payloads are never captured
// above the transport layer, and secure channel frames are already encrypted
// by the time they reach it.
//
// # File Format
//
// Log files are a stream of CBOR-encoded events with the .hwlog extension.
package log
