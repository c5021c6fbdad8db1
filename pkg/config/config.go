// Package config provides hierarchical configuration management.
// Priority: defaults < system < user < project < env < flags
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all gridflow configuration.
type Config struct {
	Version int `yaml:"version"`

	Conversion ConversionConfig `yaml:"conversion"`
	Output     OutputConfig     `yaml:"output"`
	Watch      WatchConfig      `yaml:"watch"`
}

// ConversionConfig controls default conversion behavior.
type ConversionConfig struct {
	Compression      string `yaml:"compression"`       // none | fast-lossless | balanced-lossless
	CompressionLevel int    `yaml:"compression_level"` // 1-9
	Workers          int    `yaml:"workers"`           // 0 = auto
	StepPattern      string `yaml:"step_pattern"`      // optional regex with one capture group
}

// OutputConfig controls where results land.
type OutputConfig struct {
	Dir  string `yaml:"dir"`  // empty means alongside the input
	Name string `yaml:"name"` // empty means the input folder name
}

// WatchConfig controls watch mode.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Version: 1,
		Conversion: ConversionConfig{
			Compression:      "balanced-lossless",
			CompressionLevel: 4,
			Workers:          0, // auto
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
}

// NewManager creates a new configuration manager.
func NewManager() *Manager {
	return &Manager{
		config: Default(),
	}
}

// Load loads configuration from all sources in priority order.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Start with defaults
	m.config = Default()

	// Load from paths in order (later overrides earlier)
	paths := m.getConfigPaths()
	for _, path := range paths {
		if err := m.loadFile(path); err != nil {
			// Ignore missing files, but surface errors for existing files
			if !os.IsNotExist(err) {
				return err
			}
		} else {
			m.paths = append(m.paths, path)
		}
	}

	// Override with environment variables
	m.loadEnv()

	return nil
}

// getConfigPaths returns config file paths in priority order.
func (m *Manager) getConfigPaths() []string {
	var paths []string

	// System config
	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/gridflow/config.yaml")
	}

	// User config
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".gridflow", "config.yaml"))
	}

	// Project config (current directory)
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".gridflow.yaml"))
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
	if src.Conversion.Compression != "" {
		m.config.Conversion.Compression = src.Conversion.Compression
	}
	if src.Conversion.CompressionLevel != 0 {
		m.config.Conversion.CompressionLevel = src.Conversion.CompressionLevel
	}
	if src.Conversion.Workers != 0 {
		m.config.Conversion.Workers = src.Conversion.Workers
	}
	if src.Conversion.StepPattern != "" {
		m.config.Conversion.StepPattern = src.Conversion.StepPattern
	}

	if src.Output.Dir != "" {
		m.config.Output.Dir = src.Output.Dir
	}
	if src.Output.Name != "" {
		m.config.Output.Name = src.Output.Name
	}

	if src.Watch.Debounce != 0 {
		m.config.Watch.Debounce = src.Watch.Debounce
	}
}

// loadEnv loads configuration from environment variables.
func (m *Manager) loadEnv() {
	if v := os.Getenv("GRIDFLOW_COMPRESSION"); v != "" {
		m.config.Conversion.Compression = v
	}

	if v := os.Getenv("GRIDFLOW_COMPRESSION_LEVEL"); v != "" {
		var level int
		if _, err := fmt.Sscanf(v, "%d", &level); err == nil {
			m.config.Conversion.CompressionLevel = level
		}
	}

	if v := os.Getenv("GRIDFLOW_WORKERS"); v != "" {
		var workers int
		if _, err := fmt.Sscanf(v, "%d", &workers); err == nil {
			m.config.Conversion.Workers = workers
		}
	}

	if v := os.Getenv("GRIDFLOW_STEP_PATTERN"); v != "" {
		m.config.Conversion.StepPattern = v
	}

	if v := os.Getenv("GRIDFLOW_OUTPUT_DIR"); v != "" {
		m.config.Output.Dir = v
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

// Save writes the current config to the user config file.
func (m *Manager) Save() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	configDir := filepath.Join(home, ".gridflow")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(m.config)
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(configDir, "config.yaml"), data, 0644)
}

// Global instance
var (
	globalManager *Manager
	globalOnce    sync.Once
)

// Global returns the global configuration manager.
func Global() *Manager {
	globalOnce.Do(func() {
		globalManager = NewManager()
		globalManager.Load()
	})
	return globalManager
}
