package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/marmos91/kioaccess/internal/logger"
	"github.com/marmos91/kioaccess/internal/telemetry"
	"github.com/marmos91/kioaccess/pkg/access"
	"github.com/marmos91/kioaccess/pkg/config"
	"github.com/marmos91/kioaccess/pkg/metrics"

	// Import prometheus metrics to register init() functions
	_ "github.com/marmos91/kioaccess/pkg/metrics/prometheus"
)

// InitLogger initializes the structured logger from configuration.
func InitLogger(cfg *config.Config) error {
	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// environment is what the streaming commands share: loaded configuration,
// observability and an adapter over the configured providers.
type environment struct {
	cfg     *config.Config
	adapter *access.Adapter

	closers []func(context.Context) error
}

// setup loads the configuration and builds the environment. The caller must
// call close.
func setup(ctx context.Context) (*environment, error) {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return nil, err
	}
	if err := InitLogger(cfg); err != nil {
		return nil, err
	}

	env := &environment{cfg: cfg}
	if err := env.initObservability(ctx); err != nil {
		_ = env.close()
		return nil, err
	}

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
	}

	reg, err := config.InitializeRegistry(ctx, cfg, metrics.NewFetchMetrics())
	if err != nil {
		_ = env.close()
		return nil, err
	}
	acfg, err := cfg.AccessConfig()
	if err != nil {
		_ = env.close()
		return nil, err
	}

	env.adapter = access.New(acfg, reg, access.WithMetrics(metrics.NewStreamMetrics()))
	env.closers = append(env.closers, env.adapter.Shutdown)
	return env, nil
}

func (e *environment) initObservability(ctx context.Context) error {
	tcfg := e.cfg.Telemetry
	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        tcfg.Enabled,
		ServiceName:    telemetry.DefaultServiceName,
		ServiceVersion: Version,
		Endpoint:       tcfg.Endpoint,
		Insecure:       tcfg.Insecure,
		SampleRate:     tcfg.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	e.closers = append(e.closers, telemetryShutdown)

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        tcfg.Profiling.Enabled,
		ServiceName:    telemetry.DefaultServiceName,
		ServiceVersion: Version,
		Endpoint:       tcfg.Profiling.Endpoint,
		ProfileTypes:   tcfg.Profiling.ProfileTypes,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	e.closers = append(e.closers, func(context.Context) error { return profilingShutdown() })
	return nil
}

// close releases everything setup acquired, newest first, bounded by the
// configured shutdown timeout.
func (e *environment) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}

// closeInto closes c and reports its failure through *errp unless an earlier
// error is already set.
func closeInto(errp *error, c io.Closer, what string) {
	if err := c.Close(); err != nil && *errp == nil {
		*errp = fmt.Errorf("failed to close %s: %w", what, err)
	}
}

// getConfigSource describes where the configuration came from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}
