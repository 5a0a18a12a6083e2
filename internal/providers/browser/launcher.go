package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/webdelegate/internal/domain/session"
	"github.com/GriffinCanCode/webdelegate/internal/shared/id"
)

// Config controls how browsers are launched.
type Config struct {
	Headless      bool
	ExtensionPath string
	ExtensionID   string
	// UserDataRoot holds per-session profiles; empty means the OS temp dir.
	UserDataRoot  string
	LaunchTimeout time.Duration
	InstallDriver bool
}

// Launcher provisions one persistent Chromium context per session.
type Launcher struct {
	pw     *playwright.Playwright
	cfg    Config
	bridge *ExtensionBridge
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

// NewLauncher starts the playwright driver. bridge may be nil, in which case
// sessions run without media capture.
func NewLauncher(cfg Config, bridge *ExtensionBridge, logger *zap.Logger) (*Launcher, error) {
	opts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}

	if cfg.InstallDriver {
		if err := playwright.Install(opts); err != nil {
			return nil, fmt.Errorf("failed to install playwright: %w", err)
		}
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	if cfg.ExtensionPath != "" {
		abs, err := filepath.Abs(cfg.ExtensionPath)
		if err != nil {
			_ = pw.Stop()
			return nil, fmt.Errorf("resolve extension path: %w", err)
		}
		cfg.ExtensionPath = abs
		if _, err := os.Stat(abs); err != nil {
			logger.Warn("capture extension not found, capture disabled", zap.String("path", abs))
			cfg.ExtensionPath = ""
		}
	}

	return &Launcher{
		pw:     pw,
		cfg:    cfg,
		bridge: bridge,
		logger: logger,
	}, nil
}

// launchArgs mirrors the flags the capture extension and screencast need:
// autoplay without a gesture so audio starts, and the extension allow-listed.
func launchArgs(cfg Config) []string {
	args := []string{
		"--single-process",
		"--no-sandbox",
		"--no-zygote",
		"--use-angle=default",
		"--autoplay-policy=no-user-gesture-required",
		"--start-fullscreen",
	}
	if cfg.ExtensionPath != "" {
		args = append(args,
			"--load-extension="+cfg.ExtensionPath,
			"--disable-extensions-except="+cfg.ExtensionPath,
		)
		if cfg.ExtensionID != "" {
			args = append(args, "--whitelisted-extension-id="+cfg.ExtensionID)
		}
	}
	return args
}

// timeoutMillis picks the tighter of ctx's deadline and the configured
// timeout, in the milliseconds playwright expects.
func timeoutMillis(ctx context.Context, fallback time.Duration) float64 {
	timeout := fallback
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout || timeout <= 0 {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		timeout = time.Millisecond
	}
	return float64(timeout.Milliseconds())
}

// Provision launches an isolated browser sized to viewport.
func (l *Launcher) Provision(ctx context.Context, sessionID id.SessionID, viewport session.Viewport) (session.BrowserSession, error) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return nil, errors.New("launcher closed")
	}

	userDataDir, err := os.MkdirTemp(l.cfg.UserDataRoot, "webdelegate-"+sessionID.String()+"-")
	if err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}

	timeout := timeoutMillis(ctx, l.cfg.LaunchTimeout)
	browserCtx, err := l.pw.Chromium.LaunchPersistentContext(userDataDir, playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless:          playwright.Bool(l.cfg.Headless),
		Args:              launchArgs(l.cfg),
		IgnoreDefaultArgs: []string{"--hide-scrollbars"},
		Viewport: &playwright.Size{
			Width:  viewport.Width,
			Height: viewport.Height,
		},
		Timeout: playwright.Float(timeout),
	})
	if err != nil {
		_ = os.RemoveAll(userDataDir)
		return nil, fmt.Errorf("launch chromium: %w", err)
	}

	page, err := l.newPage(browserCtx, sessionID, viewport, userDataDir, timeout)
	if err != nil {
		_ = browserCtx.Close()
		_ = os.RemoveAll(userDataDir)
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		_ = page.Close()
		return nil, err
	}
	return page, nil
}

func (l *Launcher) newPage(browserCtx playwright.BrowserContext, sessionID id.SessionID, viewport session.Viewport, userDataDir string, timeout float64) (*Page, error) {
	tab, err := browserCtx.NewPage()
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	tab.SetDefaultNavigationTimeout(timeout)

	// a persistent context starts with a blank tab of its own
	for _, other := range browserCtx.Pages() {
		if other != tab {
			if err := other.Close(); err != nil {
				l.logger.Debug("close initial tab", zap.Error(err))
			}
		}
	}

	if err := tab.SetViewportSize(viewport.Width, viewport.Height); err != nil {
		return nil, fmt.Errorf("set viewport: %w", err)
	}

	cdp, err := browserCtx.NewCDPSession(tab)
	if err != nil {
		return nil, fmt.Errorf("open cdp session: %w", err)
	}

	p := newPage(sessionID, browserCtx, tab, cdp, userDataDir, l.logger.With(zap.String("session_id", sessionID.String())))

	if l.bridge != nil && l.cfg.ExtensionPath != "" {
		if err := l.bridge.Attach(sessionID, browserCtx, tab); err != nil {
			// capture is optional; StartCapture reports the gap later
			p.logger.Warn("capture extension unavailable", zap.Error(err))
		} else {
			p.bridge = l.bridge
		}
	}

	return p, nil
}

// Close stops the playwright driver. Browsers still open are killed with it.
func (l *Launcher) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	if err := l.pw.Stop(); err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	return nil
}
