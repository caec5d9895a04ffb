package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the default configuration file name.
const DefaultConfigFile = ".update-sample-data"

// XDGConfigFile is the configuration file name inside XDGConfigDir.
const XDGConfigFile = "config.yaml"

// ErrConfigNotFound is returned when the configuration file does not exist.
var ErrConfigNotFound = errors.New("configuration file not found")

// File represents the structure of the .update-sample-data configuration file.
type File struct {
	// Channels replaces the default channel list.
	Channels []string `yaml:"channels,omitempty"`

	// Model is the default model assertion path.
	Model string `yaml:"model,omitempty"`

	// SnapCommand is the preparation command binary.
	SnapCommand string `yaml:"snapCommand,omitempty"`

	// SnapVerb is the subcommand passed to SnapCommand.
	SnapVerb string `yaml:"snapVerb,omitempty"`

	// ExtraSnaps are passed to the preparation command with --extra-snaps.
	ExtraSnaps []string `yaml:"extraSnaps,omitempty"`

	// OutputDir is where derived fixture names are written.
	OutputDir string `yaml:"outputDir,omitempty"`

	// PlaceholderSuffixes replaces the default ".snap" suffix list.
	PlaceholderSuffixes []string `yaml:"placeholderSuffixes,omitempty"`

	// Cache enables the prepared-tree cache. A pointer so that an explicit
	// false can be told apart from an absent key.
	Cache *bool `yaml:"cache,omitempty"`

	// CacheDir overrides the XDG cache location.
	CacheDir string `yaml:"cacheDir,omitempty"`

	// Jobs is the number of channels processed concurrently.
	Jobs int `yaml:"jobs,omitempty"`

	// CommandTimeout bounds each preparation command, e.g. "45m".
	CommandTimeout time.Duration `yaml:"commandTimeout,omitempty"`
}

// LoadConfigFile loads a configuration file.
// If the file does not exist, it returns ErrConfigNotFound.
// Callers should handle this error appropriately based on whether
// the config file path was explicitly specified by the user.
func LoadConfigFile(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // User-provided config path is intentional
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}

	var cf File
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, err
	}

	return &cf, nil
}

// FindConfigFile searches for the configuration file in the following order:
// 1. If configPath is specified, use it directly
// 2. Look for .update-sample-data in the current directory
// 3. Look for .update-sample-data in the user's home directory
// 4. Look for config.yaml in the XDG config directory
//
// Returns the path to the configuration file if found, or empty string if not found.
func FindConfigFile(configPath string) string {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		return ""
	}

	for _, candidate := range configCandidates() {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// configCandidates returns the implicit configuration file locations in
// search order.
func configCandidates() []string {
	var candidates []string
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(cwd, DefaultConfigFile))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, DefaultConfigFile))
	}
	return append(candidates, filepath.Join(XDGConfigDir(), XDGConfigFile))
}
