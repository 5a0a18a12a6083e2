// Package monitoring exposes Prometheus metrics for webdelegate.
//
// Metrics live in a private registry served by Metrics.Handler (mounted at
// /metrics). Besides HTTP request metrics, the collector tracks the session
// state machine, screencast frame flow (frames sent, dropped acks), capture
// chunk throughput and per-type input event counts.
package monitoring
