package session

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/webdelegate/internal/infrastructure/monitoring"
)

type frameMessage struct {
	Frame string `json:"frame"`
}

// ScreencastRelay forwards screencast frames of one browser to the client
// and acknowledges each frame after it has been handed to the connection.
type ScreencastRelay struct {
	browser BrowserSession
	conn    Connection
	opts    ScreencastOptions
	logger  *zap.Logger
	metrics *monitoring.Metrics

	mu      sync.Mutex
	ctx     context.Context
	started bool
	stopped bool
}

func newScreencastRelay(browser BrowserSession, conn Connection, opts ScreencastOptions, logger *zap.Logger, metrics *monitoring.Metrics) *ScreencastRelay {
	return &ScreencastRelay{
		browser: browser,
		conn:    conn,
		opts:    opts,
		logger:  logger,
		metrics: metrics,
	}
}

// Start subscribes to the browser's screencast. ctx bounds the lifetime of
// frame acknowledgements.
func (r *ScreencastRelay) Start(ctx context.Context) error {
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
	r.ctx = ctx
	r.mu.Unlock()

	if err := r.browser.StartScreencast(ctx, r.opts, r.handleFrame); err != nil {
		return fmt.Errorf("start screencast: %w", err)
	}

	r.logger.Debug("screencast started",
		zap.String("format", r.opts.Format),
		zap.Int("quality", r.opts.Quality),
		zap.Int("every_nth_frame", r.opts.EveryNthFrame),
	)
	return nil
}

// handleFrame sends the frame, then acks it with its own token. The ack is
// what lets the browser emit the next frame, so it is issued even when the
// send fails. Frames seen after Stop are dropped without an ack.
func (r *ScreencastRelay) handleFrame(frame ScreencastFrame) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	ctx := r.ctx
	r.mu.Unlock()

	if err := r.conn.SendJSON(frameMessage{Frame: frame.Data}); err != nil {
		r.logger.Debug("frame send failed", zap.Error(err))
	} else {
		r.metrics.IncFramesSent()
	}

	if err := r.browser.AckScreencastFrame(ctx, frame.AckToken); err != nil {
		r.metrics.IncFrameAckFailures()
		r.logger.Debug("frame ack failed", zap.Int64("token", frame.AckToken), zap.Error(err))
	}
}

// Stop unsubscribes. It is idempotent and tolerates a relay that never
// started or a browser that is already gone.
func (r *ScreencastRelay) Stop(ctx context.Context) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	started := r.started
	r.mu.Unlock()

	if !started {
		return
	}
	if err := r.browser.StopScreencast(ctx); err != nil {
		r.logger.Debug("screencast stop failed", zap.Error(err))
	}
}
