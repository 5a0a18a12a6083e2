// Package server wires the webdelegate process together.
//
// This package orchestrates all components:
//   - HTTP routing with Gin framework
//   - Middleware stack (recovery, tracing, metrics, CORS, request logs)
//   - Per-IP rate limiting on the renderer WebSocket endpoint
//   - Browser launcher, capture extension bridge and launch breaker
//   - Session manager and the capture chunk dispatcher
//
// Routes:
//
//	GET /renderer   WebSocket upgrade, one browser session per connection
//	GET /health     liveness plus session and breaker state
//	GET /sessions   live sessions
//	GET /metrics    Prometheus exposition
//
// Example Usage:
//
//	cfg, err := config.Load()
//	srv, err := server.NewServer(cfg, logger)
//	if err != nil {
//		return err
//	}
//	return srv.Run(ctx) // returns after ctx is cancelled and sessions are closed
package server
