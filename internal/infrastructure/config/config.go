package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Browser   BrowserConfig   `yaml:"browser"`
	Stream    StreamConfig    `yaml:"stream"`
	Capture   CaptureConfig   `yaml:"capture"`
	Logging   LogConfig       `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port   string `envconfig:"PORT" default:"8000" yaml:"port"`
	Host   string `envconfig:"HOST" default:"0.0.0.0" yaml:"host"`
	WSPath string `envconfig:"WS_PATH" default:"/renderer" yaml:"ws_path"`
	// MaxConnections caps open TCP connections, and so live browsers; 0 is unlimited.
	MaxConnections int `envconfig:"MAX_CONNECTIONS" default:"0" yaml:"max_connections"`
}

// BrowserConfig controls how per-session browsers are launched.
type BrowserConfig struct {
	Headless      bool          `envconfig:"BROWSER_HEADLESS" default:"false" yaml:"headless"`
	ExtensionPath string        `envconfig:"BROWSER_EXTENSION_PATH" default:"extension" yaml:"extension_path"`
	ExtensionID   string        `envconfig:"BROWSER_EXTENSION_ID" default:"foofdhnicbkplmcpgcnianionbjbbold" yaml:"extension_id"`
	UserDataRoot  string        `envconfig:"BROWSER_USER_DATA_ROOT" default:"" yaml:"user_data_root"`
	LaunchTimeout time.Duration `envconfig:"BROWSER_LAUNCH_TIMEOUT" default:"30s" yaml:"launch_timeout"`
	// InstallDriver downloads the playwright driver and Chromium on startup.
	InstallDriver bool `envconfig:"BROWSER_INSTALL" default:"false" yaml:"install_driver"`
	// Consecutive launch failures before new sessions fail fast, and for how long.
	BreakerThreshold uint32        `envconfig:"BROWSER_BREAKER_THRESHOLD" default:"5" yaml:"breaker_threshold"`
	BreakerCooldown  time.Duration `envconfig:"BROWSER_BREAKER_COOLDOWN" default:"30s" yaml:"breaker_cooldown"`
}

// StreamConfig holds screencast and input relay settings.
type StreamConfig struct {
	Format        string        `envconfig:"SCREENCAST_FORMAT" default:"jpeg" yaml:"format"`
	Quality       int           `envconfig:"SCREENCAST_QUALITY" default:"35" yaml:"quality"`
	EveryNthFrame int           `envconfig:"SCREENCAST_EVERY_NTH_FRAME" default:"10" yaml:"every_nth_frame"`
	CursorRPS     float64       `envconfig:"CURSOR_QUERY_RPS" default:"0" yaml:"cursor_rps"`
	WriteTimeout  time.Duration `envconfig:"WS_WRITE_TIMEOUT" default:"10s" yaml:"write_timeout"`
}

// CaptureConfig holds the default media capture request for new sessions.
type CaptureConfig struct {
	Enabled   bool   `envconfig:"CAPTURE_ENABLED" default:"true" yaml:"enabled"`
	Audio     bool   `envconfig:"CAPTURE_AUDIO" default:"true" yaml:"audio"`
	Video     bool   `envconfig:"CAPTURE_VIDEO" default:"false" yaml:"video"`
	MimeType  string `envconfig:"CAPTURE_MIME" default:"audio/webm; codecs=opus" yaml:"mime_type"`
	FrameSize int    `envconfig:"CAPTURE_FRAME_SIZE" default:"20" yaml:"frame_size"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info" yaml:"level"`
	Development bool   `envconfig:"LOG_DEV" default:"false" yaml:"development"`
}

// RateLimitConfig limits how fast a single client may open new sessions.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"5" yaml:"requests_per_second"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"10" yaml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true" yaml:"enabled"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:   "8000",
			Host:   "0.0.0.0",
			WSPath: "/renderer",
		},
		Browser: BrowserConfig{
			Headless:         false,
			ExtensionPath:    "extension",
			ExtensionID:      "foofdhnicbkplmcpgcnianionbjbbold",
			LaunchTimeout:    30 * time.Second,
			BreakerThreshold: 5,
			BreakerCooldown:  30 * time.Second,
		},
		Stream: StreamConfig{
			Format:        "jpeg",
			Quality:       35,
			EveryNthFrame: 10,
			WriteTimeout:  10 * time.Second,
		},
		Capture: CaptureConfig{
			Enabled:   true,
			Audio:     true,
			Video:     false,
			MimeType:  "audio/webm; codecs=opus",
			FrameSize: 20,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 5,
			Burst:             10,
			Enabled:           true,
		},
	}
}

// Validate rejects settings the relays cannot work with.
func (c *Config) Validate() error {
	var errs []error
	if c.Stream.Format != "jpeg" && c.Stream.Format != "png" {
		errs = append(errs, fmt.Errorf("SCREENCAST_FORMAT must be jpeg or png, got %q", c.Stream.Format))
	}
	if c.Stream.Quality < 0 || c.Stream.Quality > 100 {
		errs = append(errs, fmt.Errorf("SCREENCAST_QUALITY must be within 0..100, got %d", c.Stream.Quality))
	}
	if c.Stream.EveryNthFrame < 1 {
		errs = append(errs, fmt.Errorf("SCREENCAST_EVERY_NTH_FRAME must be positive, got %d", c.Stream.EveryNthFrame))
	}
	if c.Stream.CursorRPS < 0 {
		errs = append(errs, fmt.Errorf("CURSOR_QUERY_RPS must not be negative, got %v", c.Stream.CursorRPS))
	}
	if c.Capture.Enabled && !c.Capture.Audio && !c.Capture.Video {
		errs = append(errs, errors.New("CAPTURE_ENABLED requires CAPTURE_AUDIO or CAPTURE_VIDEO"))
	}
	if c.Server.MaxConnections < 0 {
		errs = append(errs, fmt.Errorf("MAX_CONNECTIONS must not be negative, got %d", c.Server.MaxConnections))
	}
	if c.Server.WSPath == "" || c.Server.WSPath[0] != '/' {
		errs = append(errs, fmt.Errorf("WS_PATH must start with '/', got %q", c.Server.WSPath))
	}
	return errors.Join(errs...)
}
