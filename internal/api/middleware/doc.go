// Package middleware provides the HTTP middleware of the renderer service.
//
// Middleware stack includes:
//   - CORS: Cross-origin resource sharing for the status endpoints
//   - RateLimit: Per-IP token bucket limiting how fast sessions are opened
//   - Logger: Request logging through zap
//
// Rate Limiting:
//   - Token bucket per client IP
//   - Idle clients are evicted after IdleTTL
//
// Example Usage:
//
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
//	router.GET("/renderer", middleware.RateLimit(middleware.DefaultRateLimitConfig()), handler)
package middleware
