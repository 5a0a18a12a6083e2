package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/webdelegate/internal/infrastructure/logging"
	"github.com/GriffinCanCode/webdelegate/internal/shared/id"
)

// Session is one client connection's browser and the relays that stream it.
// All mutable fields are guarded by mu; message handling is additionally
// serialized by handleMu so input is applied in receive order.
type Session struct {
	id         id.SessionID
	conn       Connection
	params     ConnectParams
	mgr        *Manager
	logger     *zap.Logger
	translator *Translator
	createdAt  time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	handleMu sync.Mutex

	mu         sync.Mutex
	state      State
	browser    BrowserSession
	screencast *ScreencastRelay
	capture    *CaptureRelay

	closeOnce sync.Once
}

// Info is a point-in-time view of a session.
type Info struct {
	ID        id.SessionID `json:"id"`
	State     State        `json:"state"`
	TargetURL string       `json:"target_url"`
	Viewport  Viewport     `json:"viewport"`
	Capture   bool         `json:"capture"`
	CreatedAt time.Time    `json:"created_at"`
	Age       string       `json:"age"`
}

func newSession(ctx context.Context, mgr *Manager, conn Connection, params ConnectParams) *Session {
	sessionID := id.NewSessionID()
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	return &Session{
		id:         sessionID,
		conn:       conn,
		params:     params,
		mgr:        mgr,
		logger:     logging.ForSession(mgr.logger, sessionID.String()),
		translator: NewTranslator(mgr.opts.CursorRPS),
		createdAt:  time.Now(),
		ctx:        ctx,
		cancel:     cancel,
		state:      StateConnecting,
	}
}

// ID returns the session identifier.
func (s *Session) ID() id.SessionID {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Info returns a snapshot for listings.
func (s *Session) Info() Info {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	return Info{
		ID:        s.id,
		State:     state,
		TargetURL: s.params.TargetURL,
		Viewport:  s.params.Viewport,
		Capture:   s.params.Capture != nil,
		CreatedAt: s.createdAt,
		Age:       time.Since(s.createdAt).Round(time.Second).String(),
	}
}

// transitionLocked moves to the next state if the lifecycle allows it.
// Callers hold s.mu.
func (s *Session) transitionLocked(to State) bool {
	if !canTransition(s.state, to) {
		return false
	}
	s.logger.Debug("session transition",
		zap.Stringer("from", s.state),
		zap.Stringer("to", to),
	)
	s.state = to
	s.mgr.metrics.RecordTransition(to.String())
	return true
}

// start moves the session to PROVISIONING and provisions the browser on its
// own goroutine.
func (s *Session) start() {
	s.mu.Lock()
	s.transitionLocked(StateProvisioning)
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.provision()
	}()
}

func (s *Session) provision() {
	ctx, cancel := context.WithTimeout(s.ctx, s.mgr.opts.LaunchTimeout)
	defer cancel()

	span, ctx := s.mgr.tracer.StartSpan(ctx, "session.provision")
	span.SetTag("session_id", s.id.String())
	span.SetTag("target_url", s.params.TargetURL)
	defer func() {
		span.Finish()
		s.mgr.tracer.Submit(span)
	}()

	start := time.Now()
	browser, err := s.launch(ctx)
	if err != nil {
		span.SetError(err)
		s.mgr.metrics.RecordProvision("failure", time.Since(start))
		s.failProvisioning(err)
		return
	}
	s.mgr.metrics.RecordProvision("success", time.Since(start))

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateProvisioning {
		// closed while provisioning; the browser is ours to release
		if err := browser.Close(); err != nil {
			s.logger.Debug("release browser after close", zap.Error(err))
		}
		return
	}

	s.browser = browser
	s.transitionLocked(StateActive)
	s.logger.Info("session active",
		zap.String("target_url", s.params.TargetURL),
		zap.Int("width", s.params.Viewport.Width),
		zap.Int("height", s.params.Viewport.Height),
	)

	s.startRelaysLocked()
}

// launch provisions and navigates. The browser is released if navigation
// fails.
func (s *Session) launch(ctx context.Context) (BrowserSession, error) {
	browser, err := s.mgr.provisioner.Provision(ctx, s.id, s.params.Viewport)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProvisioning, err)
	}

	if err := browser.Navigate(ctx, s.params.TargetURL); err != nil {
		if cerr := browser.Close(); cerr != nil {
			s.logger.Debug("release browser after navigation failure", zap.Error(cerr))
		}
		return nil, fmt.Errorf("%w: navigate %s: %w", ErrProvisioning, s.params.TargetURL, err)
	}
	return browser, nil
}

// failProvisioning ends a session whose browser never came up.
func (s *Session) failProvisioning(err error) {
	s.mu.Lock()
	closed := s.state == StateProvisioning && s.transitionLocked(StateClosed)
	s.mu.Unlock()

	if !closed {
		// Close already owns the teardown
		return
	}

	s.logger.Error("provisioning failed", zap.Error(err))
	s.mgr.forget(s)
	if cerr := s.conn.Close(); cerr != nil {
		s.logger.Debug("close connection", zap.Error(cerr))
	}
}

// startRelaysLocked starts the screencast and, when requested, capture.
// Neither failure ends the session.
func (s *Session) startRelaysLocked() {
	opts := s.mgr.opts.Screencast
	if s.params.EveryNthFrame > 0 {
		opts.EveryNthFrame = s.params.EveryNthFrame
	}

	s.screencast = newScreencastRelay(s.browser, s.conn, opts, s.logger, s.mgr.metrics)
	if err := s.screencast.Start(s.ctx); err != nil {
		s.mgr.metrics.IncScreencastStartFailures()
		s.logger.Warn("screencast unavailable", zap.Error(err))
	}

	if s.params.Capture == nil {
		return
	}
	if s.mgr.bridge == nil {
		s.logger.Warn("capture requested but no capture bridge is configured")
		return
	}

	s.capture = newCaptureRelay(s.id, s.conn, s.mgr.bridge, s.mgr.registry, *s.params.Capture, s.logger, s.mgr.metrics)
	if err := s.capture.Start(s.ctx); err != nil {
		s.logger.Warn("capture unavailable", zap.Error(err))
	}
}

// HandleMessage decodes and applies one client message. Messages are
// applied one at a time in the order HandleMessage is called. Malformed
// messages, unknown types and input outside ACTIVE never end the session;
// the returned error is informational.
func (s *Session) HandleMessage(raw []byte) error {
	s.handleMu.Lock()
	defer s.handleMu.Unlock()

	action, err := DecodeMessage(raw)
	if err != nil {
		return err
	}
	if action == nil {
		return nil
	}

	s.mu.Lock()
	state, browser := s.state, s.browser
	s.mu.Unlock()

	if state != StateActive || browser == nil {
		return fmt.Errorf("%w: %s dropped in state %s", ErrNotActive, action.Kind(), state)
	}

	// Apply runs outside mu so a slow browser call cannot hold up Close or
	// the manager. A concurrent Close cancels s.ctx and releases the browser,
	// which ends the call early.
	err = s.translator.Apply(s.ctx, browser, s.conn, action)
	s.mgr.metrics.RecordInputEvent(action.Kind(), err)
	if err != nil {
		return fmt.Errorf("%s: %w", action.Kind(), err)
	}
	return nil
}

// Close tears the session down: stop relays, deregister, release the
// browser, close the connection. It is idempotent and safe in any state,
// including while provisioning is still running.
func (s *Session) Close() error {
	s.closeOnce.Do(s.teardown)
	return nil
}

func (s *Session) teardown() {
	s.cancel()

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		s.wg.Wait()
		return
	}
	s.transitionLocked(StateClosing)
	browser, screencast, capture := s.browser, s.screencast, s.capture
	s.browser, s.screencast, s.capture = nil, nil, nil
	s.mu.Unlock()

	stopCtx, cancel := context.WithTimeout(context.Background(), s.mgr.opts.StopTimeout)
	defer cancel()

	if capture != nil {
		capture.Stop(stopCtx)
	}
	if screencast != nil {
		screencast.Stop(stopCtx)
	}
	if browser != nil {
		if err := browser.Close(); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Debug("release browser", zap.Error(err))
		}
	}

	s.wg.Wait()

	s.mu.Lock()
	s.transitionLocked(StateClosed)
	s.mu.Unlock()

	s.mgr.forget(s)
	if err := s.conn.Close(); err != nil {
		s.logger.Debug("close connection", zap.Error(err))
	}
	if capture != nil {
		capture.Wait()
	}
	s.logger.Info("session closed", zap.Duration("lifetime", time.Since(s.createdAt)))
}
