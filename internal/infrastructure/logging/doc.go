// Package logging provides structured logging for drivelink.
//
// It wraps Go's standard log/slog package so every component logs with the
// same handler, level and default fields (service, version).
//
// Configuration (config.yaml):
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("device connected", "serial", serial)
//	logger.Warn("device connection lost", "error", err)
package logging
