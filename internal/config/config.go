// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/convarchive/internal/archive"
	"github.com/jeranaias/convarchive/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete convarchive configuration.
type Config struct {
	Export ExportConfig `toml:"export"`
	Import ImportConfig `toml:"import"`
	Store  StoreConfig  `toml:"store"`
	Inbox  InboxConfig  `toml:"inbox"`
	Log    LogConfig    `toml:"log"`
}

// ExportConfig holds the defaults of the export command.
type ExportConfig struct {
	// CreatedBy is written to every manifest. Default: $USER
	CreatedBy string `toml:"created_by"`
	// Destination is the directory new bundles are created in
	Destination        string `toml:"destination"`
	IncludeSnapshots   bool   `toml:"include_snapshots"`
	IncludeAttachments bool   `toml:"include_attachments"`
	IncludeProvenance  bool   `toml:"include_provenance"`
	Compress           bool   `toml:"compress"`
	// FailurePolicy is "fail-fast" (default) or "best-effort"
	FailurePolicy    string `toml:"failure_policy"`
	CleanupOnFailure bool   `toml:"cleanup_on_failure"`
}

// ImportConfig holds the defaults of the import command and the inbox.
type ImportConfig struct {
	ImportAttachments bool   `toml:"import_attachments"`
	ImportProvenance  bool   `toml:"import_provenance"`
	MergeExisting     bool   `toml:"merge_existing"`
	TitlePrefix       string `toml:"title_prefix"`
	// FailurePolicy is "best-effort" (default) or "fail-fast"
	FailurePolicy string `toml:"failure_policy"`
	// NewerVersions is "warn" (default) or "reject"
	NewerVersions string `toml:"newer_versions"`
}

// StoreConfig selects the live store.
type StoreConfig struct {
	// Driver is "sqlite" (default) or "file"
	Driver string `toml:"driver"`
	// Path is the database file or store directory
	Path string `toml:"path"`
}

// InboxConfig configures the watch command.
type InboxConfig struct {
	Dir        string `toml:"dir"`
	DebounceMs int    `toml:"debounce_ms"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is "debug", "info" (default), "warn" or "error"
	Level string `toml:"level"`
	// Format is "text" (default) or "json"
	Format string `toml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	dir := defaultDir()
	return &Config{
		Export: ExportConfig{
			CreatedBy:          defaultCreator(),
			Destination:        ".",
			IncludeSnapshots:   true,
			IncludeAttachments: true,
			IncludeProvenance:  true,
			FailurePolicy:      string(archive.FailFast),
		},
		Import: ImportConfig{
			ImportAttachments: true,
			ImportProvenance:  true,
			FailurePolicy:     string(archive.BestEffort),
			NewerVersions:     string(archive.WarnOnNewer),
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   filepath.Join(dir, "store.db"),
		},
		Inbox: InboxConfig{
			Dir:        filepath.Join(dir, "inbox"),
			DebounceMs: 500,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func defaultDir() string {
	if dir, err := ConfigDir(); err == nil {
		return dir
	}
	return ".convarchive"
}

func defaultCreator() string {
	for _, key := range []string{"USER", "USERNAME"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return "convarchive"
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the convarchive configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".convarchive"), nil
}

// ConfigPath returns the path to the default TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads the default config file if it exists, then applies environment
// overrides and validates the result.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return LoadFromPath(path)
		}
	}
	return finish(Default())
}

// LoadFromPath loads configuration from a specific TOML file with full validation.
// Keys missing from the file keep their defaults.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if err := LoadTOML(cfg, path); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	return finish(cfg)
}

// LoadTOML decodes a TOML file over cfg.
func LoadTOML(cfg *Config, path string) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

func finish(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SetDefaults fills empty string and zero numeric fields. Booleans are left
// alone since false is a meaningful value.
func (c *Config) SetDefaults() {
	d := Default()
	if c.Export.CreatedBy == "" {
		c.Export.CreatedBy = d.Export.CreatedBy
	}
	if c.Export.Destination == "" {
		c.Export.Destination = d.Export.Destination
	}
	if c.Export.FailurePolicy == "" {
		c.Export.FailurePolicy = d.Export.FailurePolicy
	}
	if c.Import.FailurePolicy == "" {
		c.Import.FailurePolicy = d.Import.FailurePolicy
	}
	if c.Import.NewerVersions == "" {
		c.Import.NewerVersions = d.Import.NewerVersions
	}
	if c.Store.Driver == "" {
		c.Store.Driver = d.Store.Driver
	}
	if c.Store.Path == "" {
		c.Store.Path = d.Store.Path
	}
	if c.Inbox.Dir == "" {
		c.Inbox.Dir = d.Inbox.Dir
	}
	if c.Inbox.DebounceMs == 0 {
		c.Inbox.DebounceMs = d.Inbox.DebounceMs
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
}

// ApplyEnvOverrides applies environment variable overrides:
//   - CONVARCHIVE_STORE_PATH: overrides store.path
//   - CONVARCHIVE_STORE_DRIVER: overrides store.driver
//   - CONVARCHIVE_CREATED_BY: overrides export.created_by
//   - CONVARCHIVE_LOG_LEVEL: overrides log.level
//   - CONVARCHIVE_INBOX_DIR: overrides inbox.dir
//   - CONVARCHIVE_COMPRESS: overrides export.compress
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("CONVARCHIVE_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("CONVARCHIVE_STORE_DRIVER"); v != "" {
		c.Store.Driver = v
	}
	if v := os.Getenv("CONVARCHIVE_CREATED_BY"); v != "" {
		c.Export.CreatedBy = v
	}
	if v := os.Getenv("CONVARCHIVE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("CONVARCHIVE_INBOX_DIR"); v != "" {
		c.Inbox.Dir = v
	}
	if v := os.Getenv("CONVARCHIVE_COMPRESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Export.Compress = b
		}
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// SaveTOML writes cfg to path.
// RELIABILITY: Atomic write with fsync prevents data loss on crash
func SaveTOML(cfg *Config, path string) error {
	var sb strings.Builder
	sb.WriteString("# convarchive configuration file\n")
	sb.WriteString("# Generated by convarchive - edit with care\n\n")
	if err := toml.NewEncoder(&sb).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if _, err := archive.ParseFailurePolicy(c.Export.FailurePolicy); err != nil {
		errs = append(errs, ValidationError{Field: "export.failure_policy", Message: err.Error()})
	}
	if strings.TrimSpace(c.Export.Destination) == "" {
		errs = append(errs, ValidationError{Field: "export.destination", Message: "must not be empty"})
	}
	if _, err := archive.ParseFailurePolicy(c.Import.FailurePolicy); err != nil {
		errs = append(errs, ValidationError{Field: "import.failure_policy", Message: err.Error()})
	}
	if _, err := archive.ParseVersionPolicy(c.Import.NewerVersions); err != nil {
		errs = append(errs, ValidationError{Field: "import.newer_versions", Message: err.Error()})
	}

	switch c.Store.Driver {
	case "sqlite", "file":
	default:
		errs = append(errs, ValidationError{
			Field:   "store.driver",
			Message: fmt.Sprintf("invalid driver '%s', must be one of: sqlite, file", c.Store.Driver),
		})
	}
	if strings.TrimSpace(c.Store.Path) == "" {
		errs = append(errs, ValidationError{Field: "store.path", Message: "must not be empty"})
	}

	if c.Inbox.DebounceMs < 0 || c.Inbox.DebounceMs > 60000 {
		errs = append(errs, ValidationError{
			Field:   "inbox.debounce_ms",
			Message: fmt.Sprintf("must be between 0 and 60000, got %d", c.Inbox.DebounceMs),
		})
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, ValidationError{Field: "log.level", Message: err.Error()})
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "log.format",
			Message: fmt.Sprintf("invalid format '%s', must be one of: text, json", c.Log.Format),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// CONVERSIONS
// =============================================================================

// Options returns the archive options described by the export section.
// The config is expected to be valid.
func (e ExportConfig) Options() archive.ExportOptions {
	policy, _ := archive.ParseFailurePolicy(e.FailurePolicy)
	return archive.ExportOptions{
		IncludeSnapshots:   e.IncludeSnapshots,
		IncludeAttachments: e.IncludeAttachments,
		IncludeProvenance:  e.IncludeProvenance,
		Compress:           e.Compress,
		FailurePolicy:      policy,
		CleanupOnFailure:   e.CleanupOnFailure,
	}
}

// Options returns the archive options described by the import section.
// The config is expected to be valid.
func (i ImportConfig) Options() archive.ImportOptions {
	failure, _ := archive.ParseFailurePolicy(i.FailurePolicy)
	version, _ := archive.ParseVersionPolicy(i.NewerVersions)
	return archive.ImportOptions{
		ImportAttachments: i.ImportAttachments,
		ImportProvenance:  i.ImportProvenance,
		MergeExisting:     i.MergeExisting,
		TitlePrefix:       i.TitlePrefix,
		FailurePolicy:     failure,
		VersionPolicy:     version,
	}
}

// Debounce returns the inbox debounce as a duration.
func (i InboxConfig) Debounce() time.Duration {
	return time.Duration(i.DebounceMs) * time.Millisecond
}

// SlogLevel parses the configured level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid level '%s', must be one of: debug, info, warn, error", l.Level)
	}
	return level, nil
}

// NewLogger builds the slog logger described by the log section.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, _ := l.SlogLevel()
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
