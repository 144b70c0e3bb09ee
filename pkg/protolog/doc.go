// Package protolog provides structured protocol capture for device
// sessions.
//
// It is separate from operational logging (slog): protocol capture
// records a complete machine-readable trace of frames, state changes
// and errors for later analysis, one CBOR-encoded event per record.
//
// Applications configure capture by passing a Logger implementation in
// the session config:
//
//	// Development: mirror events to slog
//	cfg.EventLog = protolog.NewSlogAdapter(slog.Default())
//
//	// Production: write a binary trace file
//	cfg.EventLog, _ = protolog.NewFileLogger("/var/log/shelly/device.slog")
//
//	// Both at once
//	cfg.EventLog = protolog.NewMultiLogger(adapter, fileLogger)
//
// Trace files are replayed with Reader, optionally filtered by device,
// layer, category or time range.
package protolog
