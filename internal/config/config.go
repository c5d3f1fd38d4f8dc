package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bryanchriswhite/wincat/internal/capture"
	"github.com/bryanchriswhite/wincat/internal/logger"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// SourceConfig configures one capture source.
type SourceConfig struct {
	Name       string `json:"name" yaml:"name"`
	Script     string `json:"script,omitempty" yaml:"script,omitempty"`
	ScriptFile string `json:"script_file,omitempty" yaml:"script_file,omitempty"`
	Cursor     *bool  `json:"cursor,omitempty" yaml:"cursor,omitempty"` // default true
	Borders    bool   `json:"borders" yaml:"borders"`
	ClientArea bool   `json:"client_area" yaml:"client_area"`
	ForceSDR   bool   `json:"force_sdr" yaml:"force_sdr"`
}

// CaptureConfig holds settings shared by every capture.
type CaptureConfig struct {
	FPS           int `json:"fps" yaml:"fps"`
	BindTimeoutMs int `json:"bind_timeout_ms" yaml:"bind_timeout_ms"`
}

// PreviewConfig bounds the size of the MJPEG preview streams.
type PreviewConfig struct {
	Width  int  `json:"width" yaml:"width"`
	Height int  `json:"height" yaml:"height"`
	Labels bool `json:"labels" yaml:"labels"` // caption previews with the source name
}

// Config represents the application configuration
type Config struct {
	LogLevel             string         `json:"log_level" yaml:"log_level"`
	ServerPort           int            `json:"server_port" yaml:"server_port"`
	TickIntervalMs       int            `json:"tick_interval_ms" yaml:"tick_interval_ms"`
	TitleCheckIntervalMs int            `json:"title_check_interval_ms" yaml:"title_check_interval_ms"`
	SnapshotIntervalMs   int            `json:"snapshot_interval_ms" yaml:"snapshot_interval_ms"`
	ScriptTimeoutMs      int            `json:"script_timeout_ms" yaml:"script_timeout_ms"`
	IngestCapacity       int            `json:"ingest_capacity" yaml:"ingest_capacity"`
	Capture              CaptureConfig  `json:"capture" yaml:"capture"`
	Preview              PreviewConfig  `json:"preview" yaml:"preview"`
	Sources              []SourceConfig `json:"sources" yaml:"sources"`
}

// TickInterval is the liveness poke cadence.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMs) * time.Millisecond
}

// TitleCheckInterval is how often a captured window's title is compared
// with the title it had when capture started.
func (c *Config) TitleCheckInterval() time.Duration {
	return time.Duration(c.TitleCheckIntervalMs) * time.Millisecond
}

// SnapshotInterval is how often windows are enumerated.
func (c *Config) SnapshotInterval() time.Duration {
	return time.Duration(c.SnapshotIntervalMs) * time.Millisecond
}

// ScriptTimeout bounds one selector call.
func (c *Config) ScriptTimeout() time.Duration {
	return time.Duration(c.ScriptTimeoutMs) * time.Millisecond
}

// Options returns the capture options for s.
func (c *Config) Options(s SourceConfig) capture.Options {
	cursor := true
	if s.Cursor != nil {
		cursor = *s.Cursor
	}
	return capture.Options{
		Cursor:      cursor,
		Borders:     s.Borders,
		ClientArea:  s.ClientArea,
		ForceSDR:    s.ForceSDR,
		FPS:         c.Capture.FPS,
		BindTimeout: time.Duration(c.Capture.BindTimeoutMs) * time.Millisecond,
	}
}

// ResolveScript returns the inline script, or the contents of ScriptFile
// (relative to baseDir) when no inline script is set.
func (s SourceConfig) ResolveScript(baseDir string) (string, error) {
	if s.Script != "" || s.ScriptFile == "" {
		return s.Script, nil
	}
	path := s.ScriptFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read script file: %w", err)
	}
	return string(data), nil
}

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
}

// DefaultPath returns $HOME/.config/wincat/config.yaml.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "wincat", "config.yaml"), nil
}

// NewManager creates a new configuration manager
func NewManager(configFile string) (*Manager, error) {
	actualConfigPath := configFile
	if actualConfigPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		actualConfigPath = p
	}

	if err := os.MkdirAll(filepath.Dir(actualConfigPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	m := &Manager{
		configPath: actualConfigPath,
	}

	if err := m.load(); err != nil {
		if os.IsNotExist(err) {
			logger.WithComponent("config").Info().
				Str("path", m.configPath).
				Msg("Config file not found, creating new config")
			m.config = Defaults()
			if err := m.Save(); err != nil {
				return nil, fmt.Errorf("failed to create default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Int("sources", len(m.config.Sources)).
		Msg("Config loaded")

	return m, nil
}

// Defaults returns the default configuration.
func Defaults() *Config {
	return &Config{
		LogLevel:             "info",
		ServerPort:           8080,
		TickIntervalMs:       1500,
		TitleCheckIntervalMs: 5000,
		SnapshotIntervalMs:   1000,
		ScriptTimeoutMs:      250,
		IngestCapacity:       16,
		Capture: CaptureConfig{
			FPS:           30,
			BindTimeoutMs: 2000,
		},
		Preview: PreviewConfig{
			Width:  1280,
			Height: 720,
		},
		Sources: []SourceConfig{},
	}
}

// applyDefaults fills zero values left by a partial config file.
func applyDefaults(cfg *Config) {
	d := Defaults()
	if cfg.LogLevel == "" {
		cfg.LogLevel = d.LogLevel
	}
	if cfg.ServerPort == 0 {
		cfg.ServerPort = d.ServerPort
	}
	if cfg.TickIntervalMs <= 0 {
		cfg.TickIntervalMs = d.TickIntervalMs
	}
	if cfg.TitleCheckIntervalMs <= 0 {
		cfg.TitleCheckIntervalMs = d.TitleCheckIntervalMs
	}
	if cfg.SnapshotIntervalMs <= 0 {
		cfg.SnapshotIntervalMs = d.SnapshotIntervalMs
	}
	if cfg.ScriptTimeoutMs <= 0 {
		cfg.ScriptTimeoutMs = d.ScriptTimeoutMs
	}
	if cfg.IngestCapacity <= 0 {
		cfg.IngestCapacity = d.IngestCapacity
	}
	if cfg.Capture.FPS <= 0 {
		cfg.Capture.FPS = d.Capture.FPS
	}
	if cfg.Capture.BindTimeoutMs <= 0 {
		cfg.Capture.BindTimeoutMs = d.Capture.BindTimeoutMs
	}
	if cfg.Preview.Width <= 0 {
		cfg.Preview.Width = d.Preview.Width
	}
	if cfg.Preview.Height <= 0 {
		cfg.Preview.Height = d.Preview.Height
	}
	if cfg.Sources == nil {
		cfg.Sources = []SourceConfig{}
	}
	for i := range cfg.Sources {
		if cfg.Sources[i].Name == "" {
			cfg.Sources[i].Name = fmt.Sprintf("source-%d", i+1)
		}
	}
}

// load reads the configuration from disk
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	applyDefaults(&cfg)

	m.mu.Lock()
	m.config = &cfg
	m.mu.Unlock()
	return nil
}

// Reload re-reads the config file.
func (m *Manager) Reload() error {
	return m.load()
}

// Path returns the config file path.
func (m *Manager) Path() string {
	return m.configPath
}

// Dir returns the directory relative script files are resolved against.
func (m *Manager) Dir() string {
	return filepath.Dir(m.configPath)
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return Defaults()
	}

	cfg := *m.config
	cfg.Sources = append([]SourceConfig(nil), m.config.Sources...)
	return &cfg
}

// Save saves the current configuration to disk
func (m *Manager) Save() error {
	m.mu.RLock()
	cfg := m.config
	m.mu.RUnlock()

	if cfg == nil {
		cfg = Defaults()
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Int("sources", len(cfg.Sources)).
		Msg("Saving config")

	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Msg("Config saved successfully")
	return nil
}

// Update updates the entire configuration
func (m *Manager) Update(cfg *Config) error {
	applyDefaults(cfg)
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return m.Save()
}

// UpdateSource replaces the source named name.
func (m *Manager) UpdateSource(name string, src SourceConfig) error {
	m.mu.Lock()
	found := false
	for i := range m.config.Sources {
		if m.config.Sources[i].Name == name {
			m.config.Sources[i] = src
			found = true
			break
		}
	}
	m.mu.Unlock()

	if !found {
		return fmt.Errorf("source %q not found", name)
	}
	return m.Save()
}

// viper returns a viper instance reading the config file.
func (m *Manager) viper() (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigFile(m.configPath)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return v, nil
}

// GetValue returns the value at a dotted key such as "capture.fps".
func (m *Manager) GetValue(key string) (interface{}, error) {
	v, err := m.viper()
	if err != nil {
		return nil, err
	}
	if !v.IsSet(key) {
		return nil, fmt.Errorf("key not found: %s", key)
	}
	return v.Get(key), nil
}

// SetValue writes a scalar value at a dotted key and reloads.
func (m *Manager) SetValue(key string, value interface{}) error {
	if strings.HasPrefix(key, "sources") {
		return fmt.Errorf("sources cannot be set by key; edit %s", m.configPath)
	}
	v, err := m.viper()
	if err != nil {
		return err
	}
	v.Set(key, value)
	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return m.load()
}
