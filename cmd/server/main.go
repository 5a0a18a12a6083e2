package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/webdelegate/internal/infrastructure/config"
	"github.com/GriffinCanCode/webdelegate/internal/infrastructure/logging"
	"github.com/GriffinCanCode/webdelegate/internal/infrastructure/server"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

type flags struct {
	config    string
	port      string
	host      string
	dev       bool
	headless  bool
	extension string
}

func newRootCommand() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:           "webdelegate",
		Short:         "Serve remote browser sessions over WebSocket",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(f.config)
			if err != nil {
				return err
			}
			applyFlags(cfg, cmd.Flags(), f)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&f.config, "config", "c", "", "YAML config file layered over the environment")
	fs.StringVar(&f.port, "port", "", "server port (overrides PORT)")
	fs.StringVar(&f.host, "host", "", "listen host (overrides HOST)")
	fs.BoolVar(&f.dev, "dev", false, "development logging: colored console, debug level")
	fs.BoolVar(&f.headless, "headless", false, "run browsers headless (overrides BROWSER_HEADLESS)")
	fs.StringVar(&f.extension, "extension", "", "path to the capture extension (overrides BROWSER_EXTENSION_PATH)")

	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadFile(path)
}

// applyFlags lets explicitly set flags win over the environment.
func applyFlags(cfg *config.Config, fs *pflag.FlagSet, f flags) {
	if fs.Changed("port") {
		cfg.Server.Port = f.port
	}
	if fs.Changed("host") {
		cfg.Server.Host = f.host
	}
	if fs.Changed("dev") {
		cfg.Logging.Development = f.dev
		if f.dev {
			cfg.Logging.Level = "debug"
		}
	}
	if fs.Changed("headless") {
		cfg.Browser.Headless = f.headless
	}
	if fs.Changed("extension") {
		cfg.Browser.ExtensionPath = f.extension
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logging.NewFromSettings(cfg.Logging.Level, cfg.Logging.Development)

	srv, err := server.NewServer(cfg, logger)
	if err != nil {
		logger.Error("Failed to create server", zap.Error(err))
		_ = logger.Sync()
		return fmt.Errorf("create server: %w", err)
	}

	err = srv.Run(ctx)
	if err != nil {
		logger.Error("Server error", zap.Error(err))
	}
	return err
}
