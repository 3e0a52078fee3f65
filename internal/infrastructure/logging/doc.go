// Package logging provides structured logging for Benchtop Core.
//
// It wraps log/slog so every component logs with the same default
// fields (service, version) and the same level filtering.
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
//	logger := logging.New(cfg.Logging, version)
//	poller.SetLogger(logger.Component("poller"))
//	logger.Info("bench ready", "site", cfg.Site.ID)
//
// The *Logger satisfies the small Logger interfaces declared by the
// instrument, telemetry, transport and bench packages, so those
// packages never import this one.
//
// Never log MQTT passwords or InfluxDB tokens.
package logging
