// Package logging provides structured logging for the device agent.
//
// This package wraps Go's standard log/slog package so every component logs
// with the same fields and format.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version, instance) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Security
//
// Never log key material or minted tokens. Log a token's expiry instead:
//
//	logger.Info("token minted", "expires_at", tok.ExpiresAt)
package logging
