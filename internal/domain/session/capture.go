package session

import (
	"context"
	"fmt"
	"mime"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/webdelegate/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/webdelegate/internal/shared/id"
)

// Capture defaults.
const (
	DefaultVideoMimeType    = "video/webm"
	DefaultAudioMimeType    = "audio/webm"
	DefaultCaptureFrameSize = 20
)

// CaptureRequest configures in-browser media capture.
type CaptureRequest struct {
	Audio     bool   `json:"audio"`
	Video     bool   `json:"video"`
	MimeType  string `json:"mimeType"`
	FrameSize int    `json:"frameSize"`
}

// NewCaptureRequest validates and completes a capture request. At least one
// of audio or video is required. The MIME type defaults to video/webm when
// video is requested and audio/webm otherwise; the frame size defaults to 20.
func NewCaptureRequest(audio, video bool, mimeType string, frameSize int) (CaptureRequest, error) {
	if !audio && !video {
		return CaptureRequest{}, fmt.Errorf("%w: at least audio or video must be requested", ErrConfiguration)
	}
	if frameSize < 0 {
		return CaptureRequest{}, fmt.Errorf("%w: frame size must not be negative, got %d", ErrConfiguration, frameSize)
	}

	mimeType = strings.TrimSpace(mimeType)
	switch {
	case mimeType != "":
		if err := validateMediaType(mimeType); err != nil {
			return CaptureRequest{}, err
		}
	case video:
		mimeType = DefaultVideoMimeType
	default:
		mimeType = DefaultAudioMimeType
	}

	if frameSize == 0 {
		frameSize = DefaultCaptureFrameSize
	}

	return CaptureRequest{
		Audio:     audio,
		Video:     video,
		MimeType:  mimeType,
		FrameSize: frameSize,
	}, nil
}

// validateMediaType accepts audio/* and video/* types that mimetype knows,
// with optional parameters such as codecs.
func validateMediaType(value string) error {
	base, _, err := mime.ParseMediaType(value)
	if err != nil {
		return fmt.Errorf("%w: invalid capture mime type %q: %w", ErrConfiguration, value, err)
	}
	if !strings.HasPrefix(base, "audio/") && !strings.HasPrefix(base, "video/") {
		return fmt.Errorf("%w: capture mime type %q is not audio or video", ErrConfiguration, value)
	}
	if mimetype.Lookup(base) == nil {
		return fmt.Errorf("%w: unknown capture mime type %q", ErrConfiguration, value)
	}
	return nil
}

// captureQueueSize bounds the chunks buffered for one slow connection.
const captureQueueSize = 256

// CaptureRelay forwards capture chunks for one session to its connection as
// binary messages, in the order the registry delivers them. Each relay owns
// a FIFO drained by its own goroutine so a slow connection never stalls the
// registry dispatcher for other sessions.
type CaptureRelay struct {
	sessionID id.SessionID
	conn      Connection
	bridge    CaptureBridge
	registry  *Registry
	request   CaptureRequest
	logger    *zap.Logger
	metrics   *monitoring.Metrics

	queue    chan []byte
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool
}

func newCaptureRelay(sessionID id.SessionID, conn Connection, bridge CaptureBridge, registry *Registry, req CaptureRequest, logger *zap.Logger, metrics *monitoring.Metrics) *CaptureRelay {
	return &CaptureRelay{
		sessionID: sessionID,
		conn:      conn,
		bridge:    bridge,
		registry:  registry,
		request:   req,
		logger:    logger,
		metrics:   metrics,
		queue:     make(chan []byte, captureQueueSize),
		done:      make(chan struct{}),
	}
}

// Start registers the relay as the session's chunk sink and asks the bridge
// to begin recording. The sink is registered first so no early chunk is
// lost; it is removed again if the bridge refuses.
func (r *CaptureRelay) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return ErrSessionClosed
	}
	if r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = true
	r.wg.Add(1)
	go r.drain()
	r.mu.Unlock()

	if err := r.registry.Register(r.sessionID, r); err != nil {
		r.halt()
		return err
	}

	if err := r.bridge.StartCapture(ctx, r.sessionID, r.request); err != nil {
		r.registry.Unregister(r.sessionID)
		r.halt()
		r.metrics.RecordCaptureFailure("start")
		return fmt.Errorf("start capture: %w", err)
	}

	r.logger.Debug("capture started",
		zap.Bool("audio", r.request.Audio),
		zap.Bool("video", r.request.Video),
		zap.String("mime_type", r.request.MimeType),
	)
	return nil
}

// DeliverChunk queues one chunk for the connection and returns without
// waiting for the send. Chunks arriving after Stop are dropped, as are
// chunks that find the queue full.
func (r *CaptureRelay) DeliverChunk(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped || !r.started {
		return
	}

	select {
	case r.queue <- data:
	default:
		r.metrics.RecordCaptureFailure("overflow")
		r.logger.Debug("capture chunk dropped, queue full", zap.Int("bytes", len(data)))
	}
}

// drain sends queued chunks in arrival order until the relay stops.
func (r *CaptureRelay) drain() {
	defer r.wg.Done()
	for {
		select {
		case <-r.done:
			return
		case data := <-r.queue:
			select {
			case <-r.done:
				return
			default:
			}
			if err := r.conn.SendBinary(data); err != nil {
				r.logger.Debug("capture chunk send failed", zap.Error(err))
				continue
			}
			r.metrics.RecordCaptureChunk(len(data))
		}
	}
}

// halt signals the drain goroutine to exit.
func (r *CaptureRelay) halt() {
	r.stopOnce.Do(func() { close(r.done) })
}

// Stop deregisters the sink and asks the bridge to stop recording. Bridge
// errors are expected when the browser is already gone and are swallowed.
// Stop does not wait for an in-flight send; use Wait for that.
func (r *CaptureRelay) Stop(ctx context.Context) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	started := r.started
	r.mu.Unlock()

	r.halt()
	if !started {
		return
	}

	r.registry.Unregister(r.sessionID)
	if err := r.bridge.StopCapture(ctx, r.sessionID); err != nil {
		r.metrics.RecordCaptureFailure("stop")
		r.logger.Debug("capture stop failed", zap.Error(err))
	}
}

// Wait blocks until the drain goroutine has exited. Call it after Stop and
// after the connection is closed so a blocked send can return.
func (r *CaptureRelay) Wait() {
	r.wg.Wait()
}
