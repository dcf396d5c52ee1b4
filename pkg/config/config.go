// Package config provides hierarchical configuration management.
// Priority: defaults < system < user < project < env < flags
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all parcelfind configuration.
type Config struct {
	Version int `yaml:"version"`

	Context   ContextConfig   `yaml:"context"`
	Join      JoinConfig      `yaml:"join"`
	Output    OutputConfig    `yaml:"output"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ContextConfig names the working context holding the target collection.
type ContextConfig struct {
	Workspace  string `yaml:"workspace"`
	Collection string `yaml:"collection"`
}

// JoinConfig controls the tabular join.
type JoinConfig struct {
	Key   string `yaml:"key"`
	Sheet string `yaml:"sheet"` // empty = first sheet
}

// OutputConfig controls where and how outputs are named.
type OutputConfig struct {
	Workspace      string            `yaml:"workspace"` // empty = context workspace
	Prefix         string            `yaml:"prefix"`
	InterchangeDir string            `yaml:"interchange_dir"`
	Overrides      map[string]string `yaml:"overrides"` // operator -> initials
}

// StorageConfig for remote interchange destinations.
type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

// S3Config for s3:// interchange destinations.
type S3Config struct {
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug | info | warn | error
	File  string `yaml:"file"`  // JSON log file, empty = stderr only
}

// TelemetryConfig for optional tracing.
type TelemetryConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Endpoint      string  `yaml:"endpoint"`
	Insecure      bool    `yaml:"insecure"`
	SamplingRatio float64 `yaml:"sampling_ratio"`
}

// WatchConfig for the inbox drop folder.
type WatchConfig struct {
	Inbox    string        `yaml:"inbox"`
	Debounce time.Duration `yaml:"debounce"`
}

// OutputWorkspace returns the structured output workspace path.
func (c *Config) OutputWorkspace() string {
	if c.Output.Workspace != "" {
		return c.Output.Workspace
	}
	return c.Context.Workspace
}

// Default returns the default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	dir := filepath.Join(homeDir, ".parcelfind")

	return &Config{
		Version: 1,
		Context: ContextConfig{
			Workspace:  filepath.Join(dir, "default.duckdb"),
			Collection: "Parcels",
		},
		Join: JoinConfig{
			Key: "TaxParcelNumber",
		},
		Output: OutputConfig{
			Prefix: "Parcels",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			Enabled:       false,
			Endpoint:      "localhost:4317",
			SamplingRatio: 1.0,
		},
		Watch: WatchConfig{
			Debounce: 2 * time.Second,
		},
	}
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu     sync.RWMutex
	config *Config
	paths  []string // Paths that were loaded

	// SearchPaths replaces the system, user and project lookup when set.
	SearchPaths []string
}

// NewManager creates a new configuration manager.
func NewManager() *Manager {
	return &Manager{
		config: Default(),
	}
}

// Load loads configuration from all sources in priority order. extra files
// (the --config flag) are merged after the standard paths and must exist.
func (m *Manager) Load(extra ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Start with defaults
	m.config = Default()
	m.paths = nil

	// Load from paths in order (later overrides earlier)
	for _, path := range m.getConfigPaths() {
		if err := m.loadFile(path); err != nil {
			// Ignore missing files, but fail on broken ones
			if !os.IsNotExist(err) {
				return fmt.Errorf("config %s: %w", path, err)
			}
		} else {
			m.paths = append(m.paths, path)
		}
	}
	for _, path := range extra {
		if path == "" {
			continue
		}
		if err := m.loadFile(path); err != nil {
			return fmt.Errorf("config %s: %w", path, err)
		}
		m.paths = append(m.paths, path)
	}

	// Override with environment variables
	m.loadEnv()

	// Ensure directories exist
	m.ensureDirs()

	return nil
}

// getConfigPaths returns config file paths in priority order.
func (m *Manager) getConfigPaths() []string {
	if m.SearchPaths != nil {
		return m.SearchPaths
	}

	var paths []string

	// System config
	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/parcelfind/config.yaml")
	}

	// User config
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".parcelfind", "config.yaml"))
	}

	// Project config (current directory)
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".parcelfind.yaml"))
	}

	return paths
}

// loadFile loads a single config file and merges it.
func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var partial Config
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return err
	}

	// Merge non-zero values
	m.merge(&partial)
	return nil
}

// merge merges non-zero values from src into config.
func (m *Manager) merge(src *Config) {
	// Context
	if src.Context.Workspace != "" {
		m.config.Context.Workspace = src.Context.Workspace
	}
	if src.Context.Collection != "" {
		m.config.Context.Collection = src.Context.Collection
	}

	// Join
	if src.Join.Key != "" {
		m.config.Join.Key = src.Join.Key
	}
	if src.Join.Sheet != "" {
		m.config.Join.Sheet = src.Join.Sheet
	}

	// Output
	if src.Output.Workspace != "" {
		m.config.Output.Workspace = src.Output.Workspace
	}
	if src.Output.Prefix != "" {
		m.config.Output.Prefix = src.Output.Prefix
	}
	if src.Output.InterchangeDir != "" {
		m.config.Output.InterchangeDir = src.Output.InterchangeDir
	}
	if len(src.Output.Overrides) > 0 {
		if m.config.Output.Overrides == nil {
			m.config.Output.Overrides = make(map[string]string, len(src.Output.Overrides))
		}
		for k, v := range src.Output.Overrides {
			m.config.Output.Overrides[strings.ToUpper(k)] = v
		}
	}

	// Storage
	if src.Storage.S3.Region != "" {
		m.config.Storage.S3.Region = src.Storage.S3.Region
	}
	if src.Storage.S3.Endpoint != "" {
		m.config.Storage.S3.Endpoint = src.Storage.S3.Endpoint
	}
	if src.Storage.S3.PathStyle {
		m.config.Storage.S3.PathStyle = true
	}

	// Logging
	if src.Logging.Level != "" {
		m.config.Logging.Level = src.Logging.Level
	}
	if src.Logging.File != "" {
		m.config.Logging.File = src.Logging.File
	}

	// Telemetry
	if src.Telemetry.Enabled {
		m.config.Telemetry.Enabled = true
	}
	if src.Telemetry.Endpoint != "" {
		m.config.Telemetry.Endpoint = src.Telemetry.Endpoint
	}
	if src.Telemetry.Insecure {
		m.config.Telemetry.Insecure = true
	}
	if src.Telemetry.SamplingRatio != 0 {
		m.config.Telemetry.SamplingRatio = src.Telemetry.SamplingRatio
	}

	// Watch
	if src.Watch.Inbox != "" {
		m.config.Watch.Inbox = src.Watch.Inbox
	}
	if src.Watch.Debounce != 0 {
		m.config.Watch.Debounce = src.Watch.Debounce
	}
}

// loadEnv loads configuration from environment variables.
func (m *Manager) loadEnv() {
	str := map[string]*string{
		"PARCELFIND_WORKSPACE":        &m.config.Context.Workspace,
		"PARCELFIND_COLLECTION":       &m.config.Context.Collection,
		"PARCELFIND_JOIN_KEY":         &m.config.Join.Key,
		"PARCELFIND_SHEET":            &m.config.Join.Sheet,
		"PARCELFIND_OUTPUT_WORKSPACE": &m.config.Output.Workspace,
		"PARCELFIND_GEOJSON_DIR":      &m.config.Output.InterchangeDir,
		"PARCELFIND_S3_REGION":        &m.config.Storage.S3.Region,
		"PARCELFIND_S3_ENDPOINT":      &m.config.Storage.S3.Endpoint,
		"PARCELFIND_LOG_LEVEL":        &m.config.Logging.Level,
		"PARCELFIND_LOG_FILE":         &m.config.Logging.File,
		"PARCELFIND_INBOX":            &m.config.Watch.Inbox,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	// PARCELFIND_OTLP_ENDPOINT turns tracing on
	if v := os.Getenv("PARCELFIND_OTLP_ENDPOINT"); v != "" {
		m.config.Telemetry.Endpoint = v
		m.config.Telemetry.Enabled = true
	}

	// PARCELFIND_WATCH_DEBOUNCE
	if v := os.Getenv("PARCELFIND_WATCH_DEBOUNCE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			m.config.Watch.Debounce = d
		}
	}

	// PARCELFIND_SAMPLING_RATIO
	if v := os.Getenv("PARCELFIND_SAMPLING_RATIO"); v != "" {
		if r, err := strconv.ParseFloat(v, 64); err == nil {
			m.config.Telemetry.SamplingRatio = r
		}
	}
}

// ensureDirs creates the directory of the default workspace.
func (m *Manager) ensureDirs() {
	if m.config.Context.Workspace != "" {
		os.MkdirAll(filepath.Dir(m.config.Context.Workspace), 0755)
	}
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetPaths returns the paths that were loaded.
func (m *Manager) GetPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths
}
