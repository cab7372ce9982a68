package config

import (
	"context"
	"fmt"

	"github.com/marmos91/kioaccess/internal/logger"
	"github.com/marmos91/kioaccess/pkg/access"
	"github.com/marmos91/kioaccess/pkg/provider/file"
	"github.com/marmos91/kioaccess/pkg/provider/httprange"
	"github.com/marmos91/kioaccess/pkg/provider/rangejob"
	"github.com/marmos91/kioaccess/pkg/provider/s3"
	"github.com/marmos91/kioaccess/pkg/registry"
	"github.com/marmos91/kioaccess/pkg/stream"
)

// InitializeRegistry creates a Registry holding every provider the
// configuration enables:
//   - http and https, always
//   - file, always (confined to providers.file.root when set)
//   - s3, when providers.s3.enabled is set
//
// m may be nil.
func InitializeRegistry(ctx context.Context, cfg *Config, m rangejob.Metrics) (*registry.Registry, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is nil")
	}
	reg := registry.NewRegistry()

	hp := httprange.New(httprange.Config{
		Timeout:   cfg.Providers.HTTP.Timeout,
		UserAgent: cfg.Providers.HTTP.UserAgent,
		Headers:   cfg.Providers.HTTP.Headers,
	}, m)
	if err := reg.Register(hp, "http", "https"); err != nil {
		return nil, err
	}

	if s3cfg := cfg.Providers.S3; s3cfg.Enabled {
		sp, err := s3.NewFromConfig(ctx, s3.Config{
			Region:          s3cfg.Region,
			Endpoint:        s3cfg.Endpoint,
			AccessKeyID:     s3cfg.AccessKeyID,
			SecretAccessKey: s3cfg.SecretAccessKey,
			ForcePathStyle:  s3cfg.ForcePathStyle,
		}, m)
		if err != nil {
			return nil, fmt.Errorf("failed to create s3 provider: %w", err)
		}
		if err := reg.Register(sp, s3.Scheme); err != nil {
			return nil, err
		}
	}

	fp, err := file.New(file.Config{Root: cfg.Providers.File.Root}, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create file provider: %w", err)
	}
	if err := reg.Register(fp, file.Scheme); err != nil {
		return nil, err
	}

	logger.Info("Registered providers",
		logger.KeyCount, reg.CountProviders(),
		"schemes", reg.Schemes())
	return reg, nil
}

// AccessConfig converts the stream section into an access.Config.
func (c *Config) AccessConfig() (access.Config, error) {
	policy, err := stream.ParseReadPolicy(c.Stream.ReadPolicy)
	if err != nil {
		return access.Config{}, err
	}
	return access.Config{
		Stream: stream.Config{
			BlockSize:      c.Stream.BlockSize.Int(),
			LowWater:       c.Stream.LowWater.Uint64(),
			RequestUnit:    c.Stream.RequestUnit.Uint64(),
			MaxOutstanding: c.Stream.MaxOutstanding.Uint64(),
			ReadPolicy:     policy,
		},
		OpenTimeout:  c.Stream.OpenTimeout,
		SeekTimeout:  c.Stream.SeekTimeout,
		CloseTimeout: c.Stream.CloseTimeout,
		PTSDelay:     c.Stream.PTSDelay,
	}, nil
}
