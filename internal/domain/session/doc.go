// Package session orchestrates remote browser sessions.
//
// One Session exists per client WebSocket connection. It owns exactly one
// BrowserSession and multiplexes three independently paced streams over the
// connection:
//
//	client ──► HandleMessage ──► Translator ──► BrowserSession      (input)
//	BrowserSession ──► ScreencastRelay ──► {"frame": ...} + ack     (video frames)
//	CaptureBridge ──► Registry.Run ──► CaptureRelay ──► binary      (media chunks)
//
// Lifecycle:
//
//	CONNECTING ─► PROVISIONING ─► ACTIVE ─► CLOSING ─► CLOSED
//	                   │                                 ▲
//	                   └──────── provisioning failure ───┘
//
// Input events are only applied while ACTIVE; anything arriving earlier is
// dropped. Close is idempotent and safe at any point, including while the
// browser is still being provisioned.
//
// The Registry is the only state shared between sessions: it maps session
// IDs to capture sinks so chunks pushed by the process-wide CaptureBridge
// reach the right connection.
package session
