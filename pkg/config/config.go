package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/kioaccess/internal/bytesize"
)

// Config is the kioaccess configuration.
//
// It covers:
//   - Logging and telemetry (tracing, profiling)
//   - Prometheus metrics
//   - Stream sizing, read policy and operation timeouts
//   - Provider settings (http, s3, file)
//   - The HTTP API server used by `kioaccess serve`
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (KIOACCESS_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Metrics controls Prometheus metrics collection
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Stream sizes session buffering and bounds blocking operations
	Stream StreamConfig `mapstructure:"stream" yaml:"stream"`

	// Providers configures the byte-source providers
	Providers ProvidersConfig `mapstructure:"providers" yaml:"providers"`

	// Server configures the HTTP API server
	Server ServerConfig `mapstructure:"server" yaml:"server"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
// Spans are exported to an OTLP gRPC collector (Jaeger, Tempo, ...).
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	// Default: false
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	// Default: "localhost:4317"
	Endpoint string `mapstructure:"endpoint" validate:"required_if=Enabled true" yaml:"endpoint"`

	// Insecure disables TLS towards the collector
	// Default: true
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	// Default: 1.0
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	// Enabled controls whether continuous profiling is enabled
	// Default: false
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server URL
	// Default: "http://localhost:4040"
	Endpoint string `mapstructure:"endpoint" validate:"omitempty,url" yaml:"endpoint"`

	// ProfileTypes specifies which profile types to collect
	// Valid values: cpu, alloc_objects, alloc_space, inuse_objects, inuse_space,
	//               goroutines, mutex_count, mutex_duration, block_count, block_duration
	ProfileTypes []string `mapstructure:"profile_types" validate:"dive,oneof=cpu alloc_objects alloc_space inuse_objects inuse_space goroutines mutex_count mutex_duration block_count block_duration" yaml:"profile_types"`
}

// MetricsConfig controls Prometheus metrics. Metrics are exposed on the API
// server's /metrics endpoint. When Enabled is false nothing is collected.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// StreamConfig sizes every session and bounds blocking operations.
type StreamConfig struct {
	// BlockSize is the most a single block read returns
	// Default: 32Ki
	BlockSize bytesize.ByteSize `mapstructure:"block_size" validate:"gt=0,lte=16777216" yaml:"block_size"`

	// LowWater is the buffer level reads are topped up to
	// Default: 64Ki
	LowWater bytesize.ByteSize `mapstructure:"low_water" validate:"gt=0" yaml:"low_water"`

	// RequestUnit caps the size of one provider read
	// Default: 8Ki
	RequestUnit bytesize.ByteSize `mapstructure:"request_unit" validate:"gt=0" yaml:"request_unit"`

	// MaxOutstanding bounds requested-but-undelivered bytes
	// Default: same as RequestUnit
	MaxOutstanding bytesize.ByteSize `mapstructure:"max_outstanding" validate:"gt=0" yaml:"max_outstanding"`

	// ReadPolicy selects what a read does when no data is buffered yet
	// Valid values: nonblocking (return nothing, caller retries), blocking
	// Default: nonblocking
	ReadPolicy string `mapstructure:"read_policy" validate:"oneof=blocking nonblocking" yaml:"read_policy"`

	// OpenTimeout bounds opening a resource (0 disables)
	// Default: 30s
	OpenTimeout time.Duration `mapstructure:"open_timeout" validate:"gte=0" yaml:"open_timeout"`

	// SeekTimeout bounds a seek (0 disables)
	// Default: 10s
	SeekTimeout time.Duration `mapstructure:"seek_timeout" validate:"gte=0" yaml:"seek_timeout"`

	// CloseTimeout bounds a close (0 disables)
	// Default: 10s
	CloseTimeout time.Duration `mapstructure:"close_timeout" validate:"gte=0" yaml:"close_timeout"`

	// PTSDelay is the presentation delay reported to hosts
	// Default: 300ms
	PTSDelay time.Duration `mapstructure:"pts_delay" validate:"gte=0" yaml:"pts_delay"`
}

// ProvidersConfig configures each provider.
type ProvidersConfig struct {
	HTTP HTTPProviderConfig `mapstructure:"http" yaml:"http"`
	S3   S3ProviderConfig   `mapstructure:"s3" yaml:"s3"`
	File FileProviderConfig `mapstructure:"file" yaml:"file"`
}

// HTTPProviderConfig configures the http/https provider.
type HTTPProviderConfig struct {
	// Timeout bounds waiting for response headers
	// Default: 30s
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0" yaml:"timeout"`

	// UserAgent is sent with every request
	// Default: "kioaccess"
	UserAgent string `mapstructure:"user_agent" yaml:"user_agent"`

	// Headers are extra request headers (e.g. an API token)
	Headers map[string]string `mapstructure:"headers" yaml:"headers,omitempty"`
}

// S3ProviderConfig configures the s3 provider. The provider is only
// registered when Enabled is true.
type S3ProviderConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Region is the AWS region; empty uses the SDK's default chain
	Region string `mapstructure:"region" yaml:"region,omitempty"`

	// Endpoint overrides the service endpoint (MinIO, Localstack, ...)
	Endpoint string `mapstructure:"endpoint" validate:"omitempty,url" yaml:"endpoint,omitempty"`

	// AccessKeyID and SecretAccessKey set static credentials; when empty the
	// SDK's default credential chain is used
	AccessKeyID     string `mapstructure:"access_key_id" validate:"required_with=SecretAccessKey" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" validate:"required_with=AccessKeyID" yaml:"secret_access_key,omitempty"`

	// ForcePathStyle uses bucket-in-path addressing (required by MinIO)
	ForcePathStyle bool `mapstructure:"force_path_style" yaml:"force_path_style"`
}

// FileProviderConfig configures the file provider.
type FileProviderConfig struct {
	// Root confines file:// URLs to this directory; empty allows any path
	Root string `mapstructure:"root" yaml:"root,omitempty"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	// Port is the HTTP listen port
	// Default: 8080
	Port int `mapstructure:"port" validate:"min=1,max=65535" yaml:"port"`

	// ReadTimeout bounds reading a request
	// Default: 10s
	ReadTimeout time.Duration `mapstructure:"read_timeout" validate:"gte=0" yaml:"read_timeout"`

	// WriteTimeout bounds writing a response. Streaming responses can be
	// long; 0 disables the bound.
	// Default: 0
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"gte=0" yaml:"write_timeout"`

	// IdleTimeout bounds keep-alive connections
	// Default: 60s
	IdleTimeout time.Duration `mapstructure:"idle_timeout" validate:"gte=0" yaml:"idle_timeout"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (KIOACCESS_*)
//  2. Configuration file
//  3. Default values
//
// An empty configPath uses the default location. A missing file is not an
// error: environment variables are still applied on top of the defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if _, err := readConfigFile(v); err != nil {
		return nil, err
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// decode unmarshals v on top of the defaults. Registering every default with
// viper is also what lets environment variables override keys the config
// file does not mention.
func decode(v *viper.Viper) (*Config, error) {
	defaults := map[string]interface{}{}
	if err := mapstructure.Decode(GetDefaultConfig(), &defaults); err != nil {
		return nil, fmt.Errorf("failed to prepare defaults: %w", err)
	}
	setDefaults(v, "", defaults)

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	ApplyDefaults(&cfg)
	return &cfg, nil
}

func setDefaults(v *viper.Viper, prefix string, m map[string]interface{}) {
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]interface{}); ok {
			setDefaults(v, key, nested)
			continue
		}
		v.SetDefault(key, val)
	}
}

// MustLoad loads configuration, returning instructions when an explicitly
// named file does not exist.
func MustLoad(configPath string) (*Config, error) {
	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  kioaccess config init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to path in YAML format.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// 0600: the file may hold S3 credentials or API tokens.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Redacted returns a copy of cfg with secrets masked, for display.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Providers.S3.SecretAccessKey != "" {
		out.Providers.S3.SecretAccessKey = "********"
	}
	if len(c.Providers.HTTP.Headers) > 0 {
		out.Providers.HTTP.Headers = make(map[string]string, len(c.Providers.HTTP.Headers))
		for k := range c.Providers.HTTP.Headers {
			out.Providers.HTTP.Headers[k] = "********"
		}
	}
	return &out
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: KIOACCESS_STREAM_READ_POLICY=blocking
	v.SetEnvPrefix("KIOACCESS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// $XDG_CONFIG_HOME/kioaccess/config.yaml
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
		headersDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// byteSizeDecodeHook converts strings and numbers to bytesize.ByteSize, so
// config files can use sizes like "32Ki" or "64 KiB".
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings such as "30s" or "300ms" to
// time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Raw integers are nanoseconds
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// headersDecodeHook accepts "Name=value,Other=value" from the environment for
// header maps.
func headersDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(map[string]string{}) || from.Kind() != reflect.String {
			return data, nil
		}
		s := strings.TrimSpace(data.(string))
		out := map[string]string{}
		if s == "" {
			return out, nil
		}
		for _, pair := range strings.Split(s, ",") {
			name, value, ok := strings.Cut(pair, "=")
			if !ok {
				return nil, fmt.Errorf("invalid header %q (want Name=value)", pair)
			}
			out[strings.TrimSpace(name)] = strings.TrimSpace(value)
		}
		return out, nil
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "kioaccess")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "kioaccess")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
