// Package config locates and merges layered guck configuration: built-in
// defaults, an optional .guck.json file in the resolved project root, and
// GUCK_* environment overrides. Resolution never fails; anything unreadable
// falls back to defaults.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// ConfigFileName is the fixed name looked up in the resolved root directory.
const ConfigFileName = ".guck.json"

// Environment variables consumed by Load and ResolveStoreDir.
const (
	EnvCWD        = "GUCK_CWD"
	EnvInitCWD    = "INIT_CWD"
	EnvConfig     = "GUCK_CONFIG"
	EnvConfigPath = "GUCK_CONFIG_PATH"
	EnvEnabled    = "GUCK_ENABLED"
	EnvService    = "GUCK_SERVICE"
	EnvStoreDir   = "GUCK_DIR"
)

// SDKConfig gates the stdout/stderr auto-capture adapter.
type SDKConfig struct {
	Enabled       bool `json:"enabled"`
	CaptureStdout bool `json:"capture_stdout"`
	CaptureStderr bool `json:"capture_stderr"`
}

// RedactionConfig drives the redaction engine. Keys match map keys
// case-insensitively; Patterns are regular expressions applied to strings.
type RedactionConfig struct {
	Enabled  bool     `json:"enabled"`
	Keys     []string `json:"keys"`
	Patterns []string `json:"patterns"`
}

// MCPConfig carries query-surface limits. The emission pipeline treats it as
// opaque; it is consumed by read-side tooling such as guck-query.
type MCPConfig struct {
	MaxResults        int   `json:"max_results"`
	DefaultLookbackMS int64 `json:"default_lookback_ms"`
	MaxOutputChars    int   `json:"max_output_chars"`
	MaxMessageChars   int   `json:"max_message_chars"`
}

// Config is the fully merged, immutable configuration value.
type Config struct {
	Version        int             `json:"version"`
	Enabled        bool            `json:"enabled"`
	StoreDir       string          `json:"store_dir"`
	DefaultService string          `json:"default_service"`
	SDK            SDKConfig       `json:"sdk"`
	Redaction      RedactionConfig `json:"redaction"`
	MCP            MCPConfig       `json:"mcp"`
}

// Loaded is the result of one resolution pass. ConfigPath is empty when no
// readable config file was found.
type Loaded struct {
	RootDir    string
	ConfigPath string
	Config     Config
}

// Default returns a copy of the built-in defaults.
func Default() Config {
	return Config{
		Version:        1,
		Enabled:        true,
		StoreDir:       "logs/guck",
		DefaultService: "guck",
		SDK: SDKConfig{
			Enabled:       true,
			CaptureStdout: true,
			CaptureStderr: true,
		},
		Redaction: RedactionConfig{
			Enabled:  true,
			Keys:     []string{"authorization", "api_key", "token", "secret", "password"},
			Patterns: []string{`sk-[A-Za-z0-9]{20,}`, `Bearer\s+[A-Za-z0-9._-]+`},
		},
		MCP: MCPConfig{
			MaxResults:        200,
			DefaultLookbackMS: 300000,
		},
	}
}

type options struct {
	workingDir      string
	configPath      string
	hostStoreDir    string
	ignoreFileStore bool
}

// Option adjusts one resolution pass.
type Option func(*options)

// WithWorkingDir overrides the working directory used for root discovery.
func WithWorkingDir(dir string) Option {
	return func(o *options) { o.workingDir = dir }
}

// WithConfigPath points resolution at an explicit config file or directory.
func WithConfigPath(path string) Option {
	return func(o *options) { o.configPath = path }
}

// WithHostStoreDir pins the store directory to a host-chosen location and
// makes the resolver ignore any store_dir key in the config file. The
// GUCK_DIR environment override still wins.
func WithHostStoreDir(dir string) Option {
	return func(o *options) {
		o.hostStoreDir = dir
		o.ignoreFileStore = true
	}
}

// Load resolves and merges configuration. It never returns an error: a
// missing or malformed config file falls back to defaults.
func Load(opts ...Option) Loaded {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	workingDir := firstNonEmpty(o.workingDir, os.Getenv(EnvCWD), os.Getenv(EnvInitCWD))
	if workingDir == "" {
		if cwd, err := os.Getwd(); err == nil {
			workingDir = cwd
		} else {
			workingDir = "."
		}
	}

	explicit := firstNonEmpty(o.configPath, os.Getenv(EnvConfig), os.Getenv(EnvConfigPath))

	var rootDir, configPath string
	if explicit != "" {
		if !filepath.IsAbs(explicit) {
			explicit = filepath.Join(workingDir, explicit)
		}
		explicit = filepath.Clean(explicit)
		if info, err := os.Stat(explicit); err == nil && info.IsDir() {
			rootDir = explicit
			configPath = filepath.Join(explicit, ConfigFileName)
		} else {
			rootDir = filepath.Dir(explicit)
			configPath = explicit
		}
	} else {
		rootDir = findRepoRoot(workingDir)
		configPath = filepath.Join(rootDir, ConfigFileName)
	}

	cfg := Default()
	if o.hostStoreDir != "" {
		cfg.StoreDir = o.hostStoreDir
	}

	fc, ok := readConfigFile(configPath)
	if !ok {
		configPath = ""
	} else {
		mergeFile(&cfg, fc, o.ignoreFileStore)
	}

	if enabled, ok := ParseBool(os.Getenv(EnvEnabled)); ok {
		cfg.Enabled = enabled
	}
	if service := os.Getenv(EnvService); service != "" {
		cfg.DefaultService = service
	}
	if dir := os.Getenv(EnvStoreDir); dir != "" {
		cfg.StoreDir = dir
	}

	return Loaded{RootDir: rootDir, ConfigPath: configPath, Config: cfg}
}

// ResolveStoreDir returns the effective store directory: absolute paths are
// used as-is, relative ones are anchored at the resolved root.
func ResolveStoreDir(cfg Config, rootDir string) string {
	if filepath.IsAbs(cfg.StoreDir) {
		return cfg.StoreDir
	}
	return filepath.Join(rootDir, cfg.StoreDir)
}

// ParseBool parses a tri-state boolean environment value. The second return
// is false when the value is empty or not a recognizable boolean, in which
// case the caller keeps its default.
func ParseBool(value string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	return false, false
}

// findRepoRoot walks upward from startDir until a .git marker (directory or
// file) is found. Without a marker it falls back to startDir itself.
func findRepoRoot(startDir string) string {
	current, err := filepath.Abs(startDir)
	if err != nil {
		return startDir
	}
	for {
		if _, err := os.Stat(filepath.Join(current, ".git")); err == nil {
			return current
		}
		parent := filepath.Dir(current)
		if parent == current {
			return startDir
		}
		current = parent
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
