package config

import (
	"testing"
	"time"

	"github.com/marmos91/kioaccess/internal/bytesize"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default log format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stderr" {
		t.Errorf("Expected default log output 'stderr', got %q", cfg.Logging.Output)
	}
}

func TestApplyDefaults_ShutdownTimeout(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown timeout 30s, got %v", cfg.ShutdownTimeout)
	}
}

func TestApplyDefaults_Stream(t *testing.T) {
	cfg := &Config{Stream: StreamConfig{RequestUnit: 16 * bytesize.KiB, ReadPolicy: "Blocking"}}
	ApplyDefaults(cfg)

	if cfg.Stream.BlockSize != 32*bytesize.KiB {
		t.Errorf("Expected default block size 32KiB, got %v", cfg.Stream.BlockSize)
	}
	if cfg.Stream.MaxOutstanding != 16*bytesize.KiB {
		t.Errorf("Expected max_outstanding to follow request_unit, got %v", cfg.Stream.MaxOutstanding)
	}
	if cfg.Stream.ReadPolicy != "blocking" {
		t.Errorf("Expected read policy to be normalized to 'blocking', got %q", cfg.Stream.ReadPolicy)
	}
	// Zero timeouts mean "disabled" and are left alone.
	if cfg.Stream.OpenTimeout != 0 {
		t.Errorf("Expected open timeout to stay 0, got %v", cfg.Stream.OpenTimeout)
	}
}

func TestApplyDefaults_Server(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Server.Port != 8080 {
		t.Errorf("Expected default server port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 10*time.Second {
		t.Errorf("Expected default read timeout 10s, got %v", cfg.Server.ReadTimeout)
	}
	if cfg.Server.IdleTimeout != 60*time.Second {
		t.Errorf("Expected default idle timeout 60s, got %v", cfg.Server.IdleTimeout)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Logging: LoggingConfig{
			Level:  "DEBUG",
			Format: "json",
			Output: "/var/log/kioaccess.log",
		},
		ShutdownTimeout: 60 * time.Second,
		Stream: StreamConfig{
			BlockSize:      4 * bytesize.KiB,
			MaxOutstanding: 32 * bytesize.KiB,
		},
		Providers: ProvidersConfig{
			HTTP: HTTPProviderConfig{UserAgent: "vlc/3.0"},
		},
	}

	ApplyDefaults(cfg)

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected explicit level 'DEBUG' to be preserved, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Output != "/var/log/kioaccess.log" {
		t.Errorf("Expected explicit output to be preserved, got %q", cfg.Logging.Output)
	}
	if cfg.ShutdownTimeout != 60*time.Second {
		t.Errorf("Expected explicit timeout 60s to be preserved, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Stream.BlockSize != 4*bytesize.KiB {
		t.Errorf("Expected explicit block size to be preserved, got %v", cfg.Stream.BlockSize)
	}
	if cfg.Stream.MaxOutstanding != 32*bytesize.KiB {
		t.Errorf("Expected explicit max_outstanding to be preserved, got %v", cfg.Stream.MaxOutstanding)
	}
	if cfg.Providers.HTTP.UserAgent != "vlc/3.0" {
		t.Errorf("Expected explicit user agent to be preserved, got %q", cfg.Providers.HTTP.UserAgent)
	}
}

func TestGetDefaultConfig_IsValid(t *testing.T) {
	cfg := GetDefaultConfig()

	if err := Validate(cfg); err != nil {
		t.Errorf("Default config should be valid, got error: %v", err)
	}
}

func TestGetDefaultConfig_AccessConfig(t *testing.T) {
	acfg, err := GetDefaultConfig().AccessConfig()
	if err != nil {
		t.Fatalf("AccessConfig failed: %v", err)
	}

	if acfg.Stream.BlockSize != 32<<10 {
		t.Errorf("Expected block size 32768, got %d", acfg.Stream.BlockSize)
	}
	if acfg.OpenTimeout != 30*time.Second || acfg.SeekTimeout != 10*time.Second || acfg.CloseTimeout != 10*time.Second {
		t.Errorf("Unexpected timeouts: open=%v seek=%v close=%v", acfg.OpenTimeout, acfg.SeekTimeout, acfg.CloseTimeout)
	}
	if acfg.PTSDelay != 300*time.Millisecond {
		t.Errorf("Expected pts delay 300ms, got %v", acfg.PTSDelay)
	}
}
