package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/runnerr0/hxscrub/internal/epoch"
	hxerr "github.com/runnerr0/hxscrub/internal/errors"
	"github.com/runnerr0/hxscrub/internal/schema"
)

// Default config file path.
const DefaultConfigPath = "~/.config/hxscrub/config.yaml"

// Config holds all hxscrub configuration.
type Config struct {
	Clean   CleanConfig   `yaml:"clean"`
	Backup  BackupConfig  `yaml:"backup"`
	Logging LoggingConfig `yaml:"logging"`
	// Browsers extends the built-in catalog. An entry replaces the built-in
	// browser of the same name.
	Browsers map[string]BrowserConfig `yaml:"browsers,omitempty"`
}

// CleanConfig holds the defaults of the clean command.
type CleanConfig struct {
	Window       string        `yaml:"window"`
	Browsers     []string      `yaml:"browsers"`
	History      bool          `yaml:"history"`
	Cache        bool          `yaml:"cache"`
	StoreTimeout time.Duration `yaml:"store_timeout"`
}

type BackupConfig struct {
	KeepOnSuccess bool          `yaml:"keep_on_success"`
	BusyTimeout   time.Duration `yaml:"busy_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// BrowserConfig describes where one browser keeps its profiles.
type BrowserConfig struct {
	// Family selects the schema adapter: chromium, gecko or webkit.
	Family string `yaml:"family"`
	// Matcher picks profile directories under a root: chromium, gecko or
	// single (the root itself is the profile).
	Matcher string `yaml:"matcher"`
	// Store is the history file name inside a profile.
	Store string `yaml:"store"`
	// Roots maps GOOS to candidate profile roots, relative to the home
	// directory unless absolute.
	Roots map[string][]string `yaml:"roots"`
	// CacheDirs are profile-relative cache directories.
	CacheDirs []string `yaml:"cache_dirs,omitempty"`
	// SystemCaches maps GOOS to cache directories outside the profile.
	SystemCaches map[string][]string `yaml:"system_caches,omitempty"`
}

// Load reads a YAML config file at path and merges it with defaults.
// Returns an error if the file cannot be read or contains invalid YAML.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// ExpandPath replaces a leading ~ with the user's home directory.
func ExpandPath(path string) (string, error) {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// LoadOrCreate loads the config from the default path. If the file does
// not exist, it creates the directory structure and writes defaults.
func LoadOrCreate() (*Config, error) {
	path, err := ExpandPath(DefaultConfigPath)
	if err != nil {
		return nil, err
	}
	return LoadOrCreateAt(path)
}

// LoadOrCreateAt loads the config from the given path. If the file does
// not exist, it creates the directory structure and writes the defaults,
// leaving the built-in browser catalog out of the file.
func LoadOrCreateAt(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()

		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating config directory: %w", err)
		}

		onDisk := *cfg
		onDisk.Browsers = nil
		data, err := yaml.Marshal(&onDisk)
		if err != nil {
			return nil, fmt.Errorf("marshaling default config: %w", err)
		}

		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, fmt.Errorf("writing default config: %w", err)
		}

		return cfg, nil
	}

	return Load(path)
}

// BrowserNames returns the catalog's browser names in sorted order.
func (c *Config) BrowserNames() []string {
	names := make([]string, 0, len(c.Browsers))
	for name := range c.Browsers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Window parses Clean.Window.
func (c *Config) Window() (epoch.TimeWindow, error) {
	return epoch.ParseWindow(c.Clean.Window)
}

// Validate reports every invalid value in c.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateClean()...)
	errs = append(errs, c.validateLogging()...)
	errs = append(errs, c.validateBrowsers()...)

	return errs
}

func (c *Config) validateClean() []error {
	var errs []error

	if _, err := c.Window(); err != nil {
		errs = append(errs, hxerr.Errorf(hxerr.CodeConfigInvalid,
			"config: clean.window: %v", err))
	}
	if c.Clean.StoreTimeout < 0 {
		errs = append(errs, hxerr.Errorf(hxerr.CodeConfigInvalid,
			"config: clean.store_timeout must not be negative, got %s", c.Clean.StoreTimeout))
	}
	if c.Backup.BusyTimeout < 0 {
		errs = append(errs, hxerr.Errorf(hxerr.CodeConfigInvalid,
			"config: backup.busy_timeout must not be negative, got %s", c.Backup.BusyTimeout))
	}
	for _, name := range c.Clean.Browsers {
		if _, ok := c.Browsers[name]; !ok {
			errs = append(errs, hxerr.Errorf(hxerr.CodeConfigInvalid,
				"config: clean.browsers references unknown browser %q", name))
		}
	}

	return errs
}

func (c *Config) validateLogging() []error {
	var errs []error

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, hxerr.Errorf(hxerr.CodeConfigInvalid,
			"config: logging.level must be one of [debug, info, warn, error], got %q", c.Logging.Level))
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, hxerr.Errorf(hxerr.CodeConfigInvalid,
			"config: logging.format must be one of [text, json], got %q", c.Logging.Format))
	}

	return errs
}

func (c *Config) validateBrowsers() []error {
	var errs []error

	validMatchers := map[string]bool{MatcherChromium: true, MatcherGecko: true, MatcherSingle: true}
	for _, name := range c.BrowserNames() {
		b := c.Browsers[name]
		if _, err := schema.ParseFamily(b.Family); err != nil {
			errs = append(errs, hxerr.Errorf(hxerr.CodeConfigInvalid,
				"config: browsers.%s.family: %v", name, err))
		}
		if !validMatchers[b.Matcher] {
			errs = append(errs, hxerr.Errorf(hxerr.CodeConfigInvalid,
				"config: browsers.%s.matcher must be one of [chromium, gecko, single], got %q", name, b.Matcher))
		}
		if b.Store == "" || strings.ContainsAny(b.Store, `/\`) {
			errs = append(errs, hxerr.Errorf(hxerr.CodeConfigInvalid,
				"config: browsers.%s.store must be a plain file name, got %q", name, b.Store))
		}
		if len(b.Roots) == 0 {
			errs = append(errs, hxerr.Errorf(hxerr.CodeConfigInvalid,
				"config: browsers.%s.roots must not be empty", name))
		}
	}

	return errs
}
