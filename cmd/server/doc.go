// Package main is the entry point for the webdelegate server.
//
// Each WebSocket client on /renderer gets its own Chromium instance; the
// server streams screencast frames and captured media back and replays the
// client's pointer, keyboard and viewport input into the browser.
//
// Configuration:
//   - Environment variables (12-factor), see internal/infrastructure/config
//   - CLI flags (override env vars)
//   - Defaults for development
//
// Usage:
//
//	# Production mode
//	./webdelegate --port 8000 --headless
//
//	# Development mode (colored logs, debug level)
//	./webdelegate --dev --extension ./extension
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown, every session is closed
package main
