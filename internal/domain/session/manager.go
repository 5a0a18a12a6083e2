package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/webdelegate/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/webdelegate/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/webdelegate/internal/shared/id"
)

// Options tune session behaviour.
type Options struct {
	Screencast    ScreencastOptions
	CursorRPS     float64
	LaunchTimeout time.Duration
	StopTimeout   time.Duration
}

// DefaultOptions matches the stock screencast settings.
func DefaultOptions() Options {
	return Options{
		Screencast: ScreencastOptions{
			Format:        "jpeg",
			Quality:       35,
			EveryNthFrame: DefaultEveryNthFrame,
		},
		LaunchTimeout: 30 * time.Second,
		StopTimeout:   5 * time.Second,
	}
}

// Manager opens sessions and tracks the live ones.
type Manager struct {
	mu       sync.RWMutex
	sessions map[id.SessionID]*Session // Protected by mu

	provisioner Provisioner
	registry    *Registry
	bridge      CaptureBridge
	opts        Options
	logger      *zap.Logger
	metrics     *monitoring.Metrics
	tracer      *tracing.Tracer
}

// NewManager creates a session manager.
func NewManager(provisioner Provisioner, registry *Registry, opts Options, logger *zap.Logger) *Manager {
	defaults := DefaultOptions()
	if opts.LaunchTimeout <= 0 {
		opts.LaunchTimeout = defaults.LaunchTimeout
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = defaults.StopTimeout
	}
	if opts.Screencast.EveryNthFrame <= 0 {
		opts.Screencast.EveryNthFrame = defaults.Screencast.EveryNthFrame
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		sessions:    make(map[id.SessionID]*Session),
		provisioner: provisioner,
		registry:    registry,
		opts:        opts,
		logger:      logger,
	}
}

// WithCaptureBridge enables audio/video capture for sessions that ask for it
func (m *Manager) WithCaptureBridge(bridge CaptureBridge) *Manager {
	m.bridge = bridge
	return m
}

// WithMetrics adds metrics tracking to the manager
func (m *Manager) WithMetrics(metrics *monitoring.Metrics) *Manager {
	m.metrics = metrics
	return m
}

// WithTracer records provisioning spans
func (m *Manager) WithTracer(tracer *tracing.Tracer) *Manager {
	m.tracer = tracer
	return m
}

// Open validates params and starts a session for conn. Provisioning runs in
// the background; the returned session is in PROVISIONING. Trace context in
// ctx is carried into the session, its cancellation is not.
func (m *Manager) Open(ctx context.Context, conn Connection, params ConnectParams) (*Session, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	s := newSession(ctx, m, conn, params)

	m.mu.Lock()
	m.sessions[s.id] = s
	count := len(m.sessions)
	m.mu.Unlock()
	m.metrics.SetSessionsActive(count)

	s.logger.Info("session opened",
		zap.String("target_url", params.TargetURL),
		zap.Bool("capture", params.Capture != nil),
	)

	s.start()
	return s, nil
}

// Get returns a live session by id.
func (m *Manager) Get(sessionID id.SessionID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// List returns a snapshot of live sessions, oldest first.
func (m *Manager) List() []Info {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Shutdown closes every live session and waits for them, or for ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	if len(sessions) == 0 {
		return nil
	}
	m.logger.Info("closing sessions", zap.Int("count", len(sessions)))

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			_ = s.Close()
		}(s)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) forget(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.id)
	count := len(m.sessions)
	m.mu.Unlock()
	m.metrics.SetSessionsActive(count)
}
