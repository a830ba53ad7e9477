package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bryanchriswhite/stereocam/internal/logger"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. STEREOCAM_CAMERA_FPS
const EnvPrefix = "STEREOCAM"

// Manager handles configuration. The file layer is what Save writes;
// environment variables and overrides only apply to the merged view.
type Manager struct {
	configPath string
	file       *Config
	overrides  map[string]any
	config     *Config
	v          *viper.Viper
	mu         sync.RWMutex
}

// DefaultPath returns $HOME/.config/stereocam/config.yaml
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "stereocam", "config.yaml"), nil
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

	m := &Manager{
		configPath: actualConfigPath,
		overrides:  map[string]any{},
	}

	if err := m.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}

		logger.WithComponent("config").Info().
			Str("path", m.configPath).
			Msg("Config file not found, creating new config")
		if err := m.reset(Defaults()); err != nil {
			return nil, err
		}
		if err := m.Save(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	cfg := m.Get()
	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Str("driver", string(cfg.Driver)).
		Str("camera", cfg.Camera.String()).
		Msg("Config loaded")

	return m, nil
}

// load reads the configuration from disk on top of the defaults
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	return m.reset(cfg)
}

// fileViper loads cfg into a viper instance so dotted keys resolve
func fileViper(cfg *Config) (*viper.Viper, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to load config into viper: %w", err)
	}
	return v, nil
}

// reset rebuilds the merged view from the file layer, environment
// overrides and process overrides, in increasing precedence.
func (m *Manager) reset(file *Config) error {
	m.mu.RLock()
	overrides := make(map[string]any, len(m.overrides))
	for k, val := range m.overrides {
		overrides[k] = val
	}
	m.mu.RUnlock()

	return m.rebuild(file, overrides)
}

func (m *Manager) rebuild(file *Config, overrides map[string]any) error {
	v, err := fileViper(file)
	if err != nil {
		return err
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, val := range overrides {
		v.Set(key, val)
	}

	merged := &Config{}
	if err := v.Unmarshal(merged); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	if err := merged.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", m.configPath, err)
	}

	kept := *file
	m.mu.Lock()
	m.file = &kept
	m.overrides = overrides
	m.v = v
	m.config = merged
	m.mu.Unlock()
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return Defaults()
	}
	cfg := *m.config
	return &cfg
}

// fileConfig returns a copy of the file layer
func (m *Manager) fileConfig() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.file == nil {
		return Defaults()
	}
	cfg := *m.file
	return &cfg
}

// Save writes the file layer to disk. Environment and process overrides
// are not persisted.
func (m *Manager) Save() error {
	cfg := m.fileConfig()

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
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

// Override sets a dotted key for this process only, without touching the file
func (m *Manager) Override(key string, value any) error {
	m.mu.RLock()
	overrides := make(map[string]any, len(m.overrides)+1)
	for k, val := range m.overrides {
		overrides[k] = val
	}
	m.mu.RUnlock()
	overrides[key] = value

	if err := m.rebuild(m.fileConfig(), overrides); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return nil
}

// Set sets a dotted key in the file layer and persists it. A process
// override of the same key is dropped.
func (m *Manager) Set(key string, value any) error {
	if !m.IsSet(key) {
		return fmt.Errorf("configuration key not found: %s", key)
	}

	v, err := fileViper(m.fileConfig())
	if err != nil {
		return err
	}
	v.Set(key, value)
	file := &Config{}
	if err := v.Unmarshal(file); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}

	m.mu.RLock()
	overrides := make(map[string]any, len(m.overrides))
	for k, val := range m.overrides {
		if k != key {
			overrides[k] = val
		}
	}
	m.mu.RUnlock()

	if err := m.rebuild(file, overrides); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return m.Save()
}

// Lookup returns the value of a dotted key
func (m *Manager) Lookup(key string) (any, bool) {
	if !m.IsSet(key) {
		return nil, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.v.Get(key), true
}

// IsSet reports whether key names a known configuration value
func (m *Manager) IsSet(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.v.IsSet(key)
}

// SetCamera replaces the camera geometry and persists it
func (m *Manager) SetCamera(cam CameraConfig) error {
	if err := cam.Validate(); err != nil {
		return err
	}

	cfg := m.fileConfig()
	cfg.Camera.CameraConfig = cam

	if err := m.reset(cfg); err != nil {
		return err
	}
	return m.Save()
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}
