package config

import (
	"strings"
	"time"

	"github.com/marmos91/kioaccess/internal/bytesize"
	"github.com/marmos91/kioaccess/pkg/access"
	"github.com/marmos91/kioaccess/pkg/stream"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values are replaced with defaults; explicit values are preserved. The
// stream timeouts are the exception: zero disables them, so their defaults
// come from GetDefaultConfig through Load instead.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyShutdownTimeoutDefaults(cfg)
	applyStreamDefaults(&cfg.Stream)
	applyProviderDefaults(&cfg.Providers)
	applyServerDefaults(&cfg.Server)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

// applyTelemetryDefaults sets OpenTelemetry defaults.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
	applyProfilingDefaults(&cfg.Profiling)
}

// applyProfilingDefaults sets Pyroscope profiling defaults.
func applyProfilingDefaults(cfg *ProfilingConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}
	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{
			"cpu",
			"alloc_space",
			"inuse_space",
			"goroutines",
		}
	}
}

func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyStreamDefaults sets stream sizing defaults and normalizes the read
// policy.
func applyStreamDefaults(cfg *StreamConfig) {
	if cfg.BlockSize == 0 {
		cfg.BlockSize = bytesize.ByteSize(stream.DefaultBlockSize)
	}
	if cfg.LowWater == 0 {
		cfg.LowWater = bytesize.ByteSize(stream.DefaultLowWater)
	}
	if cfg.RequestUnit == 0 {
		cfg.RequestUnit = bytesize.ByteSize(stream.DefaultRequestUnit)
	}
	if cfg.MaxOutstanding == 0 {
		cfg.MaxOutstanding = cfg.RequestUnit
	}
	if cfg.ReadPolicy == "" {
		cfg.ReadPolicy = stream.ReadNonBlocking.String()
	}
	cfg.ReadPolicy = strings.ToLower(cfg.ReadPolicy)
}

func applyProviderDefaults(cfg *ProvidersConfig) {
	if cfg.HTTP.Timeout == 0 {
		cfg.HTTP.Timeout = 30 * time.Second
	}
	if cfg.HTTP.UserAgent == "" {
		cfg.HTTP.UserAgent = "kioaccess"
	}
}

// applyServerDefaults sets API server defaults. WriteTimeout stays 0 so long
// streams are not cut off.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	def := access.DefaultConfig()
	cfg := &Config{
		Stream: StreamConfig{
			OpenTimeout:  def.OpenTimeout,
			SeekTimeout:  def.SeekTimeout,
			CloseTimeout: def.CloseTimeout,
			PTSDelay:     def.PTSDelay,
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
