// Package log captures protocol events for tcpmsg endpoints.
//
// Protocol capture is separate from operational logging (slog). Endpoints
// emit an Event for every frame written or read, every decoded message,
// every session state change, every transport control message (heartbeat,
// key exchange, acknowledgment, disconnect) and every error.
//
//	// Console output during development
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// Capture file, readable with `tcpmsg log`
//	fl, _ := log.NewFileLogger("session" + log.FileExtension)
//	cfg.ProtocolLogger = log.NewMultiLogger(log.NewSlogAdapter(slog.Default()), fl)
//
// Capture files are a stream of CBOR-encoded events.
package log
