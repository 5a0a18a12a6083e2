/*
Package tracing provides lightweight request and session tracing.

# Overview

Spans are recorded in-process and written to the structured log once they
finish. A trace id follows a request from the HTTP upgrade into the session
it opens, so provisioning spans can be correlated with the connection that
triggered them.

# Usage

	tracer := tracing.New("webdelegate", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	span, ctx := tracer.StartSpan(ctx, "session.provision")
	defer func() {
		span.Finish()
		tracer.Submit(span)
	}()
	span.SetTag("session_id", sessionID.String())

# Trace Format

Trace context travels in HTTP headers:
  - X-Trace-ID: request-scoped ULID (req_ prefix) for the whole flow
  - X-Span-ID: UUID of the current operation

Both are echoed on every response.

# Performance

Spans are buffered (1000) and logged by a single collector goroutine.
Submit never blocks; spans are dropped when the buffer is full.
*/
package tracing
