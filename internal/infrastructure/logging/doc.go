// Package logging provides structured logging for spherolink.
//
// This package wraps Go's standard log/slog package so the daemon, the CLI
// and every protocol component log through one configured handler.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	t, _ := toy.New(kind, name, addr, adapter, toy.WithLogger(logger.Component("toy")))
//
// Never log secrets, tokens or passwords.
package logging
