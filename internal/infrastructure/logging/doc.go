// Package logging provides structured logging using uber/zap.
//
// Two modes are supported:
//   - Production: JSON output for machine parsing
//   - Development: colored console output for human readability
//
// Session-scoped loggers carry a session_id field so every line emitted
// while serving one WebSocket connection can be correlated:
//
//	logger := logging.NewFromSettings(cfg.Logging.Level, cfg.Logging.Development)
//	log := logging.ForSession(logger.Logger, sess.ID().String())
//	log.Warn("screencast start failed", zap.Error(err))
package logging
