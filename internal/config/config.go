package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
)

// Default configuration values.
const (
	// DefaultChannel is the release track used when none is given.
	DefaultChannel = "edge"

	// DefaultSnapCommand is the binary that prepares image trees.
	// It can be overridden with the UBUNTU_IMAGE_SNAP_CMD environment variable.
	DefaultSnapCommand = "snap"

	// DefaultSnapVerb is the subcommand that populates the root and unpack
	// directories from a model assertion.
	DefaultSnapVerb = "weld"

	// DefaultPlaceholderSuffix marks payload files that are stripped down
	// to a single placeholder byte.
	DefaultPlaceholderSuffix = ".snap"

	// DefaultJobs is the number of channels processed concurrently.
	DefaultJobs = 2

	// DefaultCommandTimeout bounds a single invocation of the preparation
	// command. Downloading snaps from the store can be slow.
	DefaultCommandTimeout = 30 * time.Minute

	// AppName is the application name used for XDG directory paths.
	AppName = "update-sample-data"
)

// Environment variables read by ApplyEnv.
const (
	// EnvSnapCommand overrides the preparation command binary.
	EnvSnapCommand = "UBUNTU_IMAGE_SNAP_CMD"

	// EnvMockSnap enables the prepared-tree cache when true.
	EnvMockSnap = "UBUNTUIMAGE_MOCK_SNAP"
)

// Config holds all options for a sample-data update.
// It is populated from defaults, the config file, the environment and CLI
// flags in that order, and passed explicitly to the components that need it.
type Config struct {
	// Channels are the release tracks to prepare. One fixture is produced
	// per channel.
	Channels []string

	// ModelPath is the model assertion file. When empty, the bundled test
	// fixture is used.
	ModelPath string

	// OutputPath is the fixture archive path. Only valid with a single
	// channel. When empty, a name derived from the model digest is used.
	OutputPath string

	// OutputDir is the directory for derived output names.
	// Empty means the current directory.
	OutputDir string

	// SnapCommand is the preparation command binary.
	SnapCommand string

	// SnapVerb is the subcommand passed to SnapCommand.
	SnapVerb string

	// ExtraSnaps are additional snaps passed with --extra-snaps.
	ExtraSnaps []string

	// PlaceholderSuffixes lists the file name suffixes whose content is
	// replaced by a single placeholder byte.
	PlaceholderSuffixes []string

	// Keep leaves the temporary working directories in place after the run.
	Keep bool

	// UseCache reuses previously prepared trees for the same model and
	// channel instead of invoking the preparation command again.
	UseCache bool

	// CacheDir holds the prepared-tree cache.
	CacheDir string

	// Jobs is the number of channels processed concurrently.
	Jobs int

	// CommandTimeout bounds each preparation command invocation.
	// Zero disables the timeout.
	CommandTimeout time.Duration

	// Verbose enables debug logging.
	Verbose bool

	// ConfigFilePath is the configuration file path. If empty, the tool
	// searches for .update-sample-data in the current and home directories.
	ConfigFilePath string

	// JSONReport selects JSON output for the run summary.
	JSONReport bool

	// MarkdownReport selects Markdown output for the run summary.
	MarkdownReport bool

	// SaveToDB records each produced fixture in the history database.
	SaveToDB bool

	// DBDir is the directory holding the history database.
	DBDir string
}

// NewConfig creates a new Config with default values.
func NewConfig() *Config {
	return &Config{
		Channels:            []string{DefaultChannel},
		SnapCommand:         DefaultSnapCommand,
		SnapVerb:            DefaultSnapVerb,
		PlaceholderSuffixes: []string{DefaultPlaceholderSuffix},
		Jobs:                DefaultJobs,
		CommandTimeout:      DefaultCommandTimeout,
		CacheDir:            XDGCacheDir(),
		DBDir:               XDGDataDir(),
		SaveToDB:            true,
	}
}

// XDGDataDir returns the XDG data directory for update-sample-data.
// On Linux: ~/.local/share/update-sample-data
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for update-sample-data.
// On Linux: ~/.config/update-sample-data
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// XDGCacheDir returns the XDG cache directory for update-sample-data.
// On Linux: ~/.cache/update-sample-data
func XDGCacheDir() string {
	return filepath.Join(xdg.CacheHome, AppName)
}

// ApplyFile copies every value set in f onto c.
// Values left at their zero value in the file do not override c.
func (c *Config) ApplyFile(f *File) {
	if f == nil {
		return
	}
	if len(f.Channels) > 0 {
		c.Channels = append([]string(nil), f.Channels...)
	}
	if f.Model != "" {
		c.ModelPath = f.Model
	}
	if f.SnapCommand != "" {
		c.SnapCommand = f.SnapCommand
	}
	if f.SnapVerb != "" {
		c.SnapVerb = f.SnapVerb
	}
	if len(f.ExtraSnaps) > 0 {
		c.ExtraSnaps = append([]string(nil), f.ExtraSnaps...)
	}
	if f.OutputDir != "" {
		c.OutputDir = f.OutputDir
	}
	if len(f.PlaceholderSuffixes) > 0 {
		c.PlaceholderSuffixes = append([]string(nil), f.PlaceholderSuffixes...)
	}
	if f.Cache != nil {
		c.UseCache = *f.Cache
	}
	if f.CacheDir != "" {
		c.CacheDir = f.CacheDir
	}
	if f.Jobs > 0 {
		c.Jobs = f.Jobs
	}
	if f.CommandTimeout > 0 {
		c.CommandTimeout = f.CommandTimeout
	}
}

// ApplyEnv reads the supported environment variables through lookup,
// which has the signature of os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvSnapCommand); ok && v != "" {
		c.SnapCommand = v
	}
	if v, ok := lookup(EnvMockSnap); ok && v != "" {
		b, err := ParseBool(v)
		if err != nil {
			return err
		}
		c.UseCache = b
	}
	return nil
}

// Validate checks if the configuration is valid.
// It returns the first rule violated.
func (c *Config) Validate() error {
	if len(c.Channels) == 0 {
		return ErrNoChannel
	}

	seen := make(map[string]bool, len(c.Channels))
	for _, ch := range c.Channels {
		if strings.TrimSpace(ch) == "" {
			return ErrEmptyChannel
		}
		if seen[ch] {
			return ErrDuplicateChannel
		}
		seen[ch] = true
	}

	if c.OutputPath != "" && len(c.Channels) > 1 {
		return ErrOutputWithMultipleChannels
	}

	if c.Jobs <= 0 {
		return ErrInvalidJobs
	}

	if c.JSONReport && c.MarkdownReport {
		return ErrConflictingReportFormats
	}

	if strings.TrimSpace(c.SnapCommand) == "" {
		return ErrNoSnapCommand
	}

	for _, s := range c.PlaceholderSuffixes {
		if s == "" {
			return ErrEmptySuffix
		}
	}

	if c.CommandTimeout < 0 {
		return ErrInvalidCommandTimeout
	}

	return nil
}

// OutputFor returns the archive path for a run with the given digest.
// An explicit OutputPath wins; otherwise the name is "<digest>.zip" in OutputDir.
func (c *Config) OutputFor(digest string) string {
	if c.OutputPath != "" {
		return c.OutputPath
	}
	return filepath.Join(c.OutputDir, digest+".zip")
}
