// Package config holds the runtime configuration of the credops CLI and
// daemon. Settings live in an optional YAML file next to the workspace
// document; a missing file means defaults everywhere.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	crederrors "github.com/systmms/credops/internal/errors"
	"github.com/systmms/credops/internal/logging"
)

// Config holds the runtime configuration.
type Config struct {
	Path           string
	Logger         *logging.Logger
	NonInteractive bool
	Settings       Settings
}

// Settings is the credops.yaml structure.
type Settings struct {
	// WorkspacePath overrides the workspace document location.
	WorkspacePath string `yaml:"workspacePath,omitempty"`

	// AWSCredentialsPath overrides where AWS credential blocks are written.
	AWSCredentialsPath string `yaml:"awsCredentialsPath,omitempty"`

	// AzureTokensPath overrides where Azure token blocks are written.
	AzureTokensPath string `yaml:"azureTokensPath,omitempty"`

	// DefaultSSORegion is the region the SSO device flow talks to when a
	// session does not name one.
	DefaultSSORegion string `yaml:"defaultSsoRegion,omitempty"`

	Rotation RotationSettings `yaml:"rotation"`
}

// RotationSettings tunes the daemon's rotation loop.
type RotationSettings struct {
	// IntervalSeconds is how often active sessions are scanned.
	IntervalSeconds int `yaml:"intervalSeconds,omitempty"`

	// MarginSeconds is the remaining validity below which credentials are
	// rotated.
	MarginSeconds int `yaml:"marginSeconds,omitempty"`
}

// DefaultPath returns the settings file location under the user's home.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".credops", "config.yaml"), nil
}

// Load reads the settings file at cfg.Path. A missing file loads defaults;
// a malformed one is reported, never replaced.
func (cfg *Config) Load() error {
	cfg.applyDefaults()

	data, err := os.ReadFile(cfg.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg.Settings); err != nil {
		return crederrors.UserError{
			Message:    fmt.Sprintf("Config file %s is not valid YAML", cfg.Path),
			Suggestion: "Fix the file or remove it to fall back to defaults",
			Err:        err,
		}
	}
	cfg.applyDefaults()
	return nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Settings.DefaultSSORegion == "" {
		cfg.Settings.DefaultSSORegion = "us-east-1"
	}
	if cfg.Settings.Rotation.IntervalSeconds <= 0 {
		cfg.Settings.Rotation.IntervalSeconds = 30
	}
	if cfg.Settings.Rotation.MarginSeconds <= 0 {
		cfg.Settings.Rotation.MarginSeconds = 300
	}
}

// RotationInterval returns the scan interval as a duration.
func (cfg *Config) RotationInterval() time.Duration {
	return time.Duration(cfg.Settings.Rotation.IntervalSeconds) * time.Second
}

// RotationMargin returns the rotation margin as a duration.
func (cfg *Config) RotationMargin() time.Duration {
	return time.Duration(cfg.Settings.Rotation.MarginSeconds) * time.Second
}
