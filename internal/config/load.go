package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

const (
	appName        = "anaplan-go"
	configFileName = "config.toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal and carry "did you mean?"
// suggestions.
func Load(path string) (*Config, error) {
	cfg, err := decode(path)
	if err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve applies the override chain defaults -> config file -> environment.
// The file path is explicit > ANAPLAN_CONFIG > DefaultConfigPath. A missing
// file at the default location is not an error, so a fully env-driven setup
// works. Validation runs on the merged result, including the credential and
// model checks that only make sense after the environment is applied.
func Resolve(explicitPath string, env EnvOverrides) (*Config, error) {
	path := DefaultConfigPath()
	if env.ConfigPath != "" {
		path = env.ConfigPath
	}

	if explicitPath != "" {
		path = explicitPath
	}

	cfg := DefaultConfig()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			cfg, err = decode(path)
			if err != nil {
				return nil, err
			}
		} else if explicitPath != "" || env.ConfigPath != "" {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	env.Apply(cfg)

	if err := errors.Join(Validate(cfg), ValidateResolved(cfg)); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// DefaultConfigPath returns the platform config file location, or "" when
// the user config directory cannot be determined.
func DefaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}

	return filepath.Join(dir, appName, configFileName)
}

func decode(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	return cfg, nil
}
