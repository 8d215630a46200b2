package config

import (
	"errors"
	"fmt"
	"os"

	"runhub/pkg/logging"

	"gopkg.in/yaml.v3"
)

// knownTopLevelKeys are the only keys accepted at the top of config.yaml.
// Anything else is a startup error; typos in section names must not be
// silently ignored.
var knownTopLevelKeys = map[string]bool{
	"server":       true,
	"cache":        true,
	"sources":      true,
	"performance":  true,
	"contentTypes": true,
	"matching":     true,
	"storage":      true,
	"logging":      true,
}

// LoadConfig loads configuration from the given file path, overlaying the
// user's settings onto the defaults. A missing file yields the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := GetDefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("ConfigLoader", "No config file at %s, using defaults", path)
			return cfg, nil
		}
		return Config{}, fmt.Errorf("reading config from %s: %w", path, err)
	}

	parsed, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("loading config from %s: %w", path, err)
	}
	logging.Info("ConfigLoader", "Loaded configuration from %s", path)
	return parsed, nil
}

// Parse decodes configuration bytes onto the defaults and validates the
// result.
func Parse(data []byte) (Config, error) {
	// First pass: reject unknown top-level sections. Adapter-specific keys
	// inside source entries stay opaque, so full strict decoding is not an
	// option here.
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("malformed yaml: %w", err)
	}
	for key := range raw {
		if !knownTopLevelKeys[key] {
			return Config{}, fmt.Errorf("unknown configuration section %q", key)
		}
	}

	cfg := GetDefaultConfig()

	// Content types declared by the user overlay the defaults per type
	// rather than replacing the whole map.
	defaultContentTypes := cfg.ContentTypes
	cfg.ContentTypes = nil

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}

	if cfg.ContentTypes == nil {
		cfg.ContentTypes = defaultContentTypes
	} else {
		for name, ct := range defaultContentTypes {
			if _, ok := cfg.ContentTypes[name]; !ok {
				cfg.ContentTypes[name] = ct
			}
		}
	}

	if err := Validate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
