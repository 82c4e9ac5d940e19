// Package config loads veracity settings from .veracity.yaml, a .env file
// beside it, and VERACITY_* environment variables, in increasing priority.
// Command-line flags are applied by the caller on top of the result.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up in the repository root.
const FileName = ".veracity.yaml"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Cache selects the extraction cache backend.
type Cache struct {
	Backend string `yaml:"backend"` // sqlite, bolt or none
	Path    string `yaml:"path"`
}

type Config struct {
	Vstd     string   `yaml:"vstd"`
	Builtin  string   `yaml:"builtin"`
	Codebase []string `yaml:"codebase"`
	Exclude  []string `yaml:"exclude"`

	VerificationMacros []string `yaml:"verification_macros"`

	Cache       Cache         `yaml:"cache"`
	Parallel    bool          `yaml:"parallel"`
	Workers     int           `yaml:"workers"`
	ReadTimeout time.Duration `yaml:"read_timeout"`

	Color    *bool  `yaml:"color"` // nil means detect from the terminal
	LogLevel string `yaml:"log_level"`

	PatternCacheSize int    `yaml:"pattern_cache_size"`
	FiltersDir       string `yaml:"filters_dir"`
	MetricsFile      string `yaml:"metrics_file"`
}

// Default returns the settings used when no file or variable overrides them.
func Default() *Config {
	return &Config{
		Exclude:            []string{"target", "attic", ".git"},
		VerificationMacros: []string{"verus"},
		Cache:              Cache{Backend: "none", Path: ".veracity/cache.db"},
		Parallel:           true,
		ReadTimeout:        10 * time.Second,
		LogLevel:           "warn",
		PatternCacheSize:   128,
		FiltersDir:         ".veracity/filters",
	}
}

// Load reads the config file at path, then applies .env and environment
// overrides. A missing file is not an error: defaults apply, and relative
// paths resolve against the file's directory either way.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	dir := filepath.Dir(path)

	// 1. YAML file
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	// 2. .env next to the file fills in variables the process lacks.
	dotenv, err := godotenv.Read(filepath.Join(dir, ".env"))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: read .env: %w", err)
	}
	env := func(key string) (string, bool) {
		if v, ok := lookup(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}

	// 3. Environment overrides
	if err := cfg.applyEnv(env); err != nil {
		return nil, err
	}

	cfg.resolvePaths(dir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(env func(string) (string, bool)) error {
	if v, ok := env("VERACITY_VSTD"); ok && v != "" {
		c.Vstd = v
	}
	if v, ok := env("VERACITY_CODEBASE"); ok && v != "" {
		c.Codebase = filepath.SplitList(v)
	}
	if v, ok := env("VERACITY_CACHE"); ok && v != "" {
		c.Cache.Backend = v
	}
	if v, ok := env("VERACITY_LOG_LEVEL"); ok && v != "" {
		c.LogLevel = v
	}
	if v, ok := env("VERACITY_WORKERS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: VERACITY_WORKERS=%q: %v", ErrInvalid, v, err)
		}
		c.Workers = n
	}
	return nil
}

// resolvePaths makes relative paths absolute against dir.
func (c *Config) resolvePaths(dir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	c.Vstd = abs(c.Vstd)
	c.Builtin = abs(c.Builtin)
	for i := range c.Codebase {
		c.Codebase[i] = abs(c.Codebase[i])
	}
	c.Cache.Path = abs(c.Cache.Path)
	c.FiltersDir = abs(c.FiltersDir)
	c.MetricsFile = abs(c.MetricsFile)
}

// Validate checks enumerated and numeric settings.
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case "sqlite", "bolt", "none":
	default:
		return fmt.Errorf("%w: cache backend %q (want sqlite, bolt or none)", ErrInvalid, c.Cache.Backend)
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers must be >= 0, got %d", ErrInvalid, c.Workers)
	}
	if c.ReadTimeout < 0 {
		return fmt.Errorf("%w: read_timeout must be >= 0", ErrInvalid)
	}
	if c.PatternCacheSize < 1 {
		return fmt.Errorf("%w: pattern_cache_size must be >= 1, got %d", ErrInvalid, c.PatternCacheSize)
	}
	if len(c.VerificationMacros) == 0 {
		return fmt.Errorf("%w: verification_macros must not be empty", ErrInvalid)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Level returns the configured log level.
func (c *Config) Level() slog.Level {
	l, _ := ParseLevel(c.LogLevel)
	return l
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning", "":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("%w: log level %q", ErrInvalid, s)
}
