// Package config loads notesync settings from defaults, an optional
// notesync.toml file, NOTESYNC_* environment variables and command flags,
// in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// FileName is the config file looked up in the search path.
const FileName = "notesync.toml"

// EnvPrefix prefixes every environment override (NOTESYNC_DEBOUNCE, ...).
const EnvPrefix = "NOTESYNC"

// Config holds resolved settings.
type Config struct {
	Root       string        `mapstructure:"root"`
	Debounce   time.Duration `mapstructure:"debounce"`
	Coalesce   time.Duration `mapstructure:"coalesce"`
	Extensions []string      `mapstructure:"extensions"`

	Log       LogConfig       `mapstructure:"log"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	RSS       RSSConfig       `mapstructure:"rss"`
}

// LogConfig controls the optional rotating log file.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Verbose    bool   `mapstructure:"verbose"`
}

type DashboardConfig struct {
	Port int `mapstructure:"port"`
}

type CatalogConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type RSSConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Root:       ".",
		Debounce:   750 * time.Millisecond,
		Coalesce:   100 * time.Millisecond,
		Extensions: []string{".md", ".markdown", ".txt"},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Dashboard: DashboardConfig{Port: 8080},
		Catalog:   CatalogConfig{Enabled: true},
		RSS: RSSConfig{
			Timeout:   20 * time.Second,
			UserAgent: "notesync/1.0",
		},
	}
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"root":     "root",
	"log-file": "log.file",
	"verbose":  "log.verbose",
	"port":     "dashboard.port",
	"debounce": "debounce",
}

// Loader resolves a Config. The zero value is not usable; call NewLoader.
type Loader struct {
	v *viper.Viper
}

// NewLoader returns a loader with defaults and environment overrides
// registered.
func NewLoader() *Loader {
	v := viper.New()
	d := Default()
	v.SetDefault("root", d.Root)
	v.SetDefault("debounce", d.Debounce)
	v.SetDefault("coalesce", d.Coalesce)
	v.SetDefault("extensions", d.Extensions)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("log.verbose", d.Log.Verbose)
	v.SetDefault("dashboard.port", d.Dashboard.Port)
	v.SetDefault("catalog.enabled", d.Catalog.Enabled)
	v.SetDefault("rss.timeout", d.RSS.Timeout)
	v.SetDefault("rss.user_agent", d.RSS.UserAgent)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v}
}

// BindFlags binds the known flags in fs to their config keys. Flags that
// were not set on the command line leave lower layers untouched.
func (l *Loader) BindFlags(fs *pflag.FlagSet) error {
	var errs []error
	fs.VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return
		}
		if err := l.v.BindPFlag(key, f); err != nil {
			errs = append(errs, fmt.Errorf("bind --%s: %w", f.Name, err))
		}
	})
	return errors.Join(errs...)
}

// Load reads the config file and returns the merged settings. An explicit
// path must exist; otherwise the file is searched in
// <root>/.notesync and $XDG_CONFIG_HOME/notesync, and may be absent.
func (l *Loader) Load(path string) (*Config, error) {
	if path != "" {
		l.v.SetConfigFile(path)
	} else {
		l.v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
		l.v.SetConfigType("toml")
		for _, dir := range searchPath(l.v.GetString("root")) {
			l.v.AddConfigPath(dir)
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ConfigFile returns the file Load read, or "" if none was found.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

func searchPath(root string) []string {
	dirs := []string{filepath.Join(root, ".notesync")}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		dirs = append(dirs, filepath.Join(xdg, "notesync"))
	} else if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".config", "notesync"))
	}
	return dirs
}

// Validate rejects settings the store cannot run with.
func (c *Config) Validate() error {
	if c.Root == "" {
		return errors.New("config: root must not be empty")
	}
	if c.Debounce < 0 || c.Coalesce < 0 {
		return fmt.Errorf("config: debounce and coalesce must be >= 0 (got %v, %v)", c.Debounce, c.Coalesce)
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("config: dashboard.port %d out of range", c.Dashboard.Port)
	}
	for i, ext := range c.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			return errors.New("config: empty extension")
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.Extensions[i] = ext
	}
	return nil
}
