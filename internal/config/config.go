// Package config loads applimit configuration from YAML or TOML files.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	StoreJSON   = "json"
	StoreBolt   = "bolt"
	StoreSQLite = "sqlite"
)

// Registry backends.
const (
	RegistryFile      = "file"
	RegistryEncrypted = "encrypted"
)

// DefaultControlAddress is where the engine serves its local control API.
const DefaultControlAddress = "127.0.0.1:7787"

// Duration is a time.Duration written as a string ("1s", "24h") in config files.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds application configuration.
type Config struct {
	// DataDir holds the policy store, key, and encrypted registry.
	DataDir string `yaml:"data_dir" toml:"data_dir"`

	Store        StoreConfig        `yaml:"store" toml:"store"`
	Engine       EngineConfig       `yaml:"engine" toml:"engine"`
	Foreground   ForegroundConfig   `yaml:"foreground" toml:"foreground"`
	Control      ControlConfig      `yaml:"control" toml:"control"`
	Intervention InterventionConfig `yaml:"intervention" toml:"intervention"`
	Logging      LoggingConfig      `yaml:"logging" toml:"logging"`
	Registry     RegistryConfig     `yaml:"registry" toml:"registry"`
}

// StoreConfig selects the PolicyStore backend.
type StoreConfig struct {
	// Backend is one of "json", "bolt", "sqlite".
	Backend string `yaml:"backend" toml:"backend"`
	// Path overrides the default file under DataDir.
	Path string `yaml:"path" toml:"path"`
}

// EngineConfig holds the polling loop periods.
type EngineConfig struct {
	TickInterval         Duration `yaml:"tick_interval" toml:"tick_interval"`
	ResetPeriod          Duration `yaml:"reset_period" toml:"reset_period"`
	HeartbeatInterval    Duration `yaml:"heartbeat_interval" toml:"heartbeat_interval"`
	PartnerCheckInterval Duration `yaml:"partner_check_interval" toml:"partner_check_interval"`
	PlistCheckInterval   Duration `yaml:"plist_check_interval" toml:"plist_check_interval"`
}

// ForegroundConfig configures how the foreground package is observed.
type ForegroundConfig struct {
	// Command prints the PID of the focused window, e.g.
	// ["xdotool", "getactivewindow", "getwindowpid"]. Empty means the host
	// pushes transitions through the control API.
	Command []string `yaml:"command" toml:"command"`
	// SystemSurfaces are added to the built-in launcher/system-shell list.
	// Entries ending in "*" match by prefix.
	SystemSurfaces []string `yaml:"system_surfaces" toml:"system_surfaces"`
}

// ControlConfig configures the local control API.
type ControlConfig struct {
	Address string `yaml:"address" toml:"address"`
}

// InterventionConfig holds optional host hooks.
type InterventionConfig struct {
	// NotifyCommand runs on present; the message is appended as the last argument.
	NotifyCommand []string `yaml:"notify_command" toml:"notify_command"`
	// ManagementCommand runs on forgot-password; the package is appended.
	ManagementCommand []string `yaml:"management_command" toml:"management_command"`
}

// LoggingConfig configures zap output for daemons.
type LoggingConfig struct {
	Level     string `yaml:"level" toml:"level"`
	File      string `yaml:"file" toml:"file"`
	ErrorFile string `yaml:"error_file" toml:"error_file"`
}

// RegistryConfig selects the daemon registry backend.
type RegistryConfig struct {
	Backend string `yaml:"backend" toml:"backend"`
}

// DefaultDataDir returns ~/.applimit.
func DefaultDataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".applimit")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(DefaultDataDir(), "config.yaml")
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DataDir: DefaultDataDir(),
		Store: StoreConfig{
			Backend: StoreJSON,
		},
		Engine: EngineConfig{
			TickInterval:         Duration(time.Second),
			ResetPeriod:          Duration(24 * time.Hour),
			HeartbeatInterval:    Duration(30 * time.Second),
			PartnerCheckInterval: Duration(60 * time.Second),
			PlistCheckInterval:   Duration(60 * time.Second),
		},
		Control: ControlConfig{
			Address: DefaultControlAddress,
		},
		Logging: LoggingConfig{
			Level:     "info",
			File:      "/var/tmp/applimit.log",
			ErrorFile: "/var/tmp/applimit.error.log",
		},
		Registry: RegistryConfig{
			Backend: RegistryFile,
		},
	}
}

// Load reads configuration from path. YAML is used unless the file ends in
// ".toml". A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg, err := loadFileRaw(path)
	if err != nil {
		return nil, err
	}
	merged := Merge(DefaultConfig(), cfg)
	merged.DataDir = ExpandHome(merged.DataDir)
	merged.Store.Path = ExpandHome(merged.Store.Path)
	if err := merged.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return merged, nil
}

// loadFileRaw returns a zero config if the file doesn't exist (not defaults).
func loadFileRaw(path string) (*Config, error) {
	cfg := &Config{}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		return cfg, nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg, nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence when non-zero; lists replace when non-empty.
func Merge(base, overlay *Config) *Config {
	result := *base

	result.DataDir = pick(overlay.DataDir, base.DataDir)
	result.Store.Backend = pick(overlay.Store.Backend, base.Store.Backend)
	result.Store.Path = pick(overlay.Store.Path, base.Store.Path)

	result.Engine.TickInterval = pickDuration(overlay.Engine.TickInterval, base.Engine.TickInterval)
	result.Engine.ResetPeriod = pickDuration(overlay.Engine.ResetPeriod, base.Engine.ResetPeriod)
	result.Engine.HeartbeatInterval = pickDuration(overlay.Engine.HeartbeatInterval, base.Engine.HeartbeatInterval)
	result.Engine.PartnerCheckInterval = pickDuration(overlay.Engine.PartnerCheckInterval, base.Engine.PartnerCheckInterval)
	result.Engine.PlistCheckInterval = pickDuration(overlay.Engine.PlistCheckInterval, base.Engine.PlistCheckInterval)

	result.Foreground.Command = pickList(overlay.Foreground.Command, base.Foreground.Command)
	result.Foreground.SystemSurfaces = pickList(overlay.Foreground.SystemSurfaces, base.Foreground.SystemSurfaces)

	result.Control.Address = pick(overlay.Control.Address, base.Control.Address)

	result.Intervention.NotifyCommand = pickList(overlay.Intervention.NotifyCommand, base.Intervention.NotifyCommand)
	result.Intervention.ManagementCommand = pickList(overlay.Intervention.ManagementCommand, base.Intervention.ManagementCommand)

	result.Logging.Level = pick(overlay.Logging.Level, base.Logging.Level)
	result.Logging.File = pick(overlay.Logging.File, base.Logging.File)
	result.Logging.ErrorFile = pick(overlay.Logging.ErrorFile, base.Logging.ErrorFile)

	result.Registry.Backend = pick(overlay.Registry.Backend, base.Registry.Backend)

	return &result
}

// Validate checks enum values and periods.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case StoreJSON, StoreBolt, StoreSQLite:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	switch c.Registry.Backend {
	case RegistryFile, RegistryEncrypted:
	default:
		return fmt.Errorf("unknown registry backend %q", c.Registry.Backend)
	}
	if c.Engine.TickInterval.Std() <= 0 {
		return fmt.Errorf("engine.tick_interval must be positive")
	}
	if c.Engine.ResetPeriod.Std() < c.Engine.TickInterval.Std() {
		return fmt.Errorf("engine.reset_period must be at least one tick")
	}
	return nil
}

// StorePath returns the policy store location for the configured backend.
func (c *Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	switch c.Store.Backend {
	case StoreBolt:
		return filepath.Join(c.DataDir, "policies.bolt")
	case StoreSQLite:
		return filepath.Join(c.DataDir, "policies.db")
	default:
		return filepath.Join(c.DataDir, "policies.json")
	}
}

// ExpandHome expands a leading ~ to the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}

func pick(overlay, base string) string {
	if overlay != "" {
		return overlay
	}
	return base
}

func pickDuration(overlay, base Duration) Duration {
	if overlay != 0 {
		return overlay
	}
	return base
}

func pickList(overlay, base []string) []string {
	if len(overlay) > 0 {
		return append([]string{}, overlay...)
	}
	return append([]string(nil), base...)
}
