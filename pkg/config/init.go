package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const configHeader = `# kioaccess configuration file
#
# Every key can be overridden with an environment variable: upper-case the
# dotted path, replace dots with underscores and add the KIOACCESS_ prefix,
# e.g. KIOACCESS_STREAM_READ_POLICY=blocking.
#
# Sizes accept units ("32 KiB", "64Ki", "1MB"); durations use Go syntax
# ("300ms", "30s"). A zero stream timeout disables it.

`

// InitConfig writes the default configuration to the default location and
// returns its path. It fails if the file exists unless force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes the default configuration to path.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", path)
		}
	}

	data, err := GenerateConfigYAML(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateConfigYAML renders cfg as a commented YAML document.
func GenerateConfigYAML(cfg *Config) ([]byte, error) {
	body, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return append([]byte(configHeader), body...), nil
}
