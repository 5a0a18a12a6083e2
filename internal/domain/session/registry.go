package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/GriffinCanCode/webdelegate/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/webdelegate/internal/shared/id"
)

// Registry maps session ids to the sinks that consume their capture chunks.
// It holds no ownership: sessions register on capture start and unregister
// on stop. All access goes through its methods.
type Registry struct {
	mu      sync.RWMutex
	sinks   map[id.SessionID]ChunkSink
	metrics *monitoring.Metrics
}

// NewRegistry creates an empty registry. metrics may be nil.
func NewRegistry(metrics *monitoring.Metrics) *Registry {
	return &Registry{
		sinks:   make(map[id.SessionID]ChunkSink),
		metrics: metrics,
	}
}

// Register installs sink for sessionID. Registering a second sink for a live
// id is an error.
func (r *Registry) Register(sessionID id.SessionID, sink ChunkSink) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sinks[sessionID]; exists {
		return fmt.Errorf("sink already registered for %s", sessionID)
	}
	r.sinks[sessionID] = sink
	return nil
}

// Unregister removes the sink for sessionID, if any.
func (r *Registry) Unregister(sessionID id.SessionID) {
	r.mu.Lock()
	delete(r.sinks, sessionID)
	r.mu.Unlock()
}

// Lookup returns the sink for sessionID.
func (r *Registry) Lookup(sessionID id.SessionID) (ChunkSink, bool) {
	r.mu.RLock()
	sink, ok := r.sinks[sessionID]
	r.mu.RUnlock()
	return sink, ok
}

// Len returns the number of registered sinks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sinks)
}

// Route hands one chunk to its session's sink. Chunks for unknown ids are
// dropped and Route reports false.
func (r *Registry) Route(chunk CaptureChunk) bool {
	sink, ok := r.Lookup(chunk.SessionID)
	if !ok {
		r.metrics.IncCaptureUnrouted()
		return false
	}
	sink.DeliverChunk(chunk.Data)
	return true
}

// Run routes chunks from the bridge until ctx is done or chunks is closed.
// It is the only consumer of the bridge's channel, so chunks for one session
// are delivered in the order the bridge produced them.
func (r *Registry) Run(ctx context.Context, chunks <-chan CaptureChunk) {
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-chunks:
			if !ok {
				return
			}
			r.Route(chunk)
		}
	}
}
