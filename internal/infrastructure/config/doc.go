// Package config provides 12-factor configuration management for webdelegate.
//
// Configuration is loaded from environment variables with sensible defaults.
// An optional YAML file (LoadFile) overlays the environment, and CLI flags
// override both for development flexibility.
//
// Configuration Sections:
//   - Server: HTTP listener and WebSocket path
//   - Browser: per-session browser launch settings (headless, capture extension)
//   - Stream: screencast encoding, frame pacing, cursor query throttle, write timeout
//   - Capture: default audio/video capture request for new sessions
//   - Logging: log level and output format
//   - RateLimit: per-IP limit on new connections
//
// Example Usage:
//
//	cfg, err := config.Load()
//	cfg, err = config.LoadFile("webdelegate.yaml") // section keys: server.port, stream.quality, ...
//	fmt.Printf("Listening on %s:%s%s\n", cfg.Server.Host, cfg.Server.Port, cfg.Server.WSPath)
package config
