package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"github.com/GriffinCanCode/webdelegate/internal/api/middleware"
	"github.com/GriffinCanCode/webdelegate/internal/api/ws"
	"github.com/GriffinCanCode/webdelegate/internal/domain/session"
	"github.com/GriffinCanCode/webdelegate/internal/infrastructure/config"
	"github.com/GriffinCanCode/webdelegate/internal/infrastructure/logging"
	"github.com/GriffinCanCode/webdelegate/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/webdelegate/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/webdelegate/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/webdelegate/internal/providers/browser"
)

// chunkBuffer is the capacity of the shared capture chunk channel.
const chunkBuffer = 256

// Server wraps the HTTP server and dependencies
type Server struct {
	router   *gin.Engine
	manager  *session.Manager
	registry *session.Registry
	bridge   *browser.ExtensionBridge
	launcher *browser.Launcher
	guard    *browser.GuardedProvisioner
	tracer   *tracing.Tracer
	logger   *logging.Logger
	config   *config.Config
	metrics  *monitoring.Metrics

	startedAt time.Time
	closeOnce sync.Once
}

// NewServer starts the browser driver and wires the session stack.
func NewServer(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.NewFromSettings(cfg.Logging.Level, cfg.Logging.Development)
	}

	logger.Info("Initializing webdelegate server",
		zap.String("port", cfg.Server.Port),
		zap.String("ws_path", cfg.Server.WSPath),
		zap.Bool("headless", cfg.Browser.Headless),
		zap.Bool("capture", cfg.Capture.Enabled),
	)

	var bridge *browser.ExtensionBridge
	if cfg.Capture.Enabled {
		bridge = browser.NewExtensionBridge(cfg.Browser.ExtensionID, chunkBuffer, logger.Named("capture"))
	}

	launcher, err := browser.NewLauncher(browser.Config{
		Headless:      cfg.Browser.Headless,
		ExtensionPath: cfg.Browser.ExtensionPath,
		ExtensionID:   cfg.Browser.ExtensionID,
		UserDataRoot:  cfg.Browser.UserDataRoot,
		LaunchTimeout: cfg.Browser.LaunchTimeout,
		InstallDriver: cfg.Browser.InstallDriver,
	}, bridge, logger.Named("browser"))
	if err != nil {
		if bridge != nil {
			bridge.Close()
		}
		return nil, fmt.Errorf("failed to start browser launcher: %w", err)
	}
	logger.Info("Browser launcher ready")

	s := newServer(cfg, logger, launcher, bridge)
	s.launcher = launcher
	return s, nil
}

// newServer builds the router around an arbitrary provisioner.
func newServer(cfg *config.Config, logger *logging.Logger, provisioner session.Provisioner, bridge *browser.ExtensionBridge) *Server {
	metrics := monitoring.NewMetrics()
	tracer := tracing.New("webdelegate", logger.Logger)

	guard := browser.NewGuardedProvisioner(provisioner, resilience.Settings{
		Threshold: cfg.Browser.BreakerThreshold,
		Cooldown:  cfg.Browser.BreakerCooldown,
	}, logger.Named("browser"))

	registry := session.NewRegistry(metrics)
	manager := session.NewManager(guard, registry, session.Options{
		Screencast: session.ScreencastOptions{
			Format:        cfg.Stream.Format,
			Quality:       cfg.Stream.Quality,
			EveryNthFrame: cfg.Stream.EveryNthFrame,
		},
		CursorRPS:     cfg.Stream.CursorRPS,
		LaunchTimeout: cfg.Browser.LaunchTimeout,
	}, logger.Named("session")).
		WithMetrics(metrics).
		WithTracer(tracer)
	if bridge != nil {
		manager = manager.WithCaptureBridge(bridge)
	}

	wsHandler := ws.NewHandler(manager, ws.Config{
		Defaults: session.ParamDefaults{
			EveryNthFrame: cfg.Stream.EveryNthFrame,
			Capture: session.CaptureDefaults{
				Enabled:   cfg.Capture.Enabled && bridge != nil,
				Audio:     cfg.Capture.Audio,
				Video:     cfg.Capture.Video,
				MimeType:  cfg.Capture.MimeType,
				FrameSize: cfg.Capture.FrameSize,
			},
		},
		WriteTimeout: cfg.Stream.WriteTimeout,
	}, logger.Named("ws")).WithMetrics(metrics)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	router.Use(middleware.Logger(logger.Named("http")))

	s := &Server{
		router:    router,
		manager:   manager,
		registry:  registry,
		bridge:    bridge,
		guard:     guard,
		tracer:    tracer,
		logger:    logger,
		config:    cfg,
		metrics:   metrics,
		startedAt: time.Now(),
	}

	connect := []gin.HandlerFunc{wsHandler.HandleConnection}
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		limit := middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: float64(cfg.RateLimit.RequestsPerSecond),
			Burst:             cfg.RateLimit.Burst,
		})
		connect = append([]gin.HandlerFunc{limit}, connect...)
	}

	router.GET(cfg.Server.WSPath, connect...)
	router.GET("/health", s.health)
	router.GET("/sessions", s.sessions)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	logger.Info("Server initialized successfully")
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Manager returns the session manager.
func (s *Server) Manager() *session.Manager {
	return s.manager
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"sessions":       s.manager.Len(),
		"capture":        s.bridge != nil,
		"capture_sinks":  s.registry.Len(),
		"launch_breaker": s.guard.State().String(),
		"uptime":         time.Since(s.startedAt).Round(time.Second).String(),
	})
}

func (s *Server) sessions(c *gin.Context) {
	list := s.manager.List()
	c.JSON(http.StatusOK, gin.H{
		"sessions": list,
		"count":    len(list),
	})
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Server.Host, s.config.Server.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	if n := s.config.Server.MaxConnections; n > 0 {
		lis = netutil.LimitListener(lis, n)
	}

	httpServer := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	var dispatch sync.WaitGroup
	if s.bridge != nil {
		dispatch.Add(1)
		go func() {
			defer dispatch.Done()
			s.registry.Run(dispatchCtx, s.bridge.Chunks())
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", lis.Addr().String()))
		serveErr <- httpServer.Serve(lis)
	}()

	var runErr error
	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Upgraded connections are hijacked, so Shutdown does not wait for them;
	// closing the sessions ends their read loops.
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http shutdown incomplete", zap.Error(err))
	}
	if err := s.Close(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}

	stopDispatch()
	dispatch.Wait()
	return runErr
}

// Close closes every session and releases the browser driver.
func (s *Server) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		s.logger.Info("Shutting down server...", zap.Int("sessions", s.manager.Len()))

		if shutdownErr := s.manager.Shutdown(ctx); shutdownErr != nil {
			s.logger.Error("Failed to close sessions", zap.Error(shutdownErr))
			err = fmt.Errorf("failed to close sessions: %w", shutdownErr)
		}
		if s.bridge != nil {
			s.bridge.Close()
		}
		if s.launcher != nil {
			if closeErr := s.launcher.Close(); closeErr != nil {
				s.logger.Error("Failed to stop browser driver", zap.Error(closeErr))
				if err == nil {
					err = fmt.Errorf("failed to stop browser driver: %w", closeErr)
				}
			}
		}
		s.tracer.Close()

		// Sync logger before exit
		_ = s.logger.Sync()
	})
	return err
}
