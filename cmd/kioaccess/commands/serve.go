package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/marmos91/kioaccess/internal/logger"
	"github.com/marmos91/kioaccess/internal/telemetry"
	"github.com/marmos91/kioaccess/pkg/api"
	"github.com/marmos91/kioaccess/pkg/config"
	"github.com/marmos91/kioaccess/pkg/metrics"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Long: `Run the kioaccess HTTP API in the foreground.

The server exposes:
  GET /health               liveness
  GET /health/ready         readiness (providers registered, not shutting down)
  GET /metrics              Prometheus metrics (when metrics.enabled is set)
  GET /api/v1/probe?url=    capability probe
  GET /api/v1/stream?url=   stream a resource, honouring Range requests
  GET /api/v1/sessions      open sessions

The configuration file is watched; a change to logging.level is applied
without restarting. Stop with Ctrl+C or SIGTERM.

Examples:
  # Serve with the default config
  kioaccess serve

  # Serve on another port with debug logs
  KIOACCESS_LOGGING_LEVEL=DEBUG kioaccess serve --port 9090`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Listen port (overrides server.port)")
}

func runServe(cmd *cobra.Command, args []string) (err error) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := setup(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := env.close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	cfg := env.cfg
	if servePort != 0 {
		cfg.Server.Port = servePort
	}

	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "kioaccess - block streaming over pluggable byte sources")
	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	logger.Info("Providers registered", "schemes", env.adapter.Registry().Schemes())
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint)
	}
	if metrics.IsEnabled() {
		logger.Info("Metrics enabled", "path", "/metrics")
	} else {
		logger.Info("Metrics collection disabled")
	}

	srv := api.NewServer(api.APIConfig{
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}, env.adapter)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})

	if path := watchedConfigPath(); path != "" {
		g.Go(func() error {
			return config.Watch(gctx, path, func(next *config.Config) {
				if next.Logging.Level != cfg.Logging.Level {
					logger.SetLevel(next.Logging.Level)
					logger.Info("Log level changed", "from", cfg.Logging.Level, "to", next.Logging.Level)
					cfg.Logging.Level = next.Logging.Level
				}
			})
		})
	}

	logger.Info("Server is running. Press Ctrl+C to stop.", "port", srv.Port())

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Server stopped")
	return nil
}

// watchedConfigPath returns the config file to watch, or "" when running on
// defaults alone.
func watchedConfigPath() string {
	if path := GetConfigFile(); path != "" {
		return path
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return ""
}
