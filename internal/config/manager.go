package config

import (
	"fmt"
	"log/slog"
	"sync"
)

// ChangeCallback is notified with the previous and new configuration
// whenever UpdateConfig commits a change.
type ChangeCallback func(oldConfig, newConfig *Config)

// Manager owns the live Config and fans out committed changes to
// registered callbacks and a ComponentRegistry of running components.
type Manager struct {
	mu         sync.RWMutex
	config     *Config
	configFile string
	callbacks  []ChangeCallback
	registry   *ComponentRegistry
}

// NewManager constructs a Manager around an already-loaded Config.
func NewManager(config *Config, configFile string) *Manager {
	return &Manager{
		config:     config,
		configFile: configFile,
		registry:   NewComponentRegistry(nil),
	}
}

// GetConfig returns the current configuration. Callers must not mutate
// the returned value; DeepCopy it first.
func (m *Manager) GetConfig() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Registry returns the ComponentRegistry components register against.
func (m *Manager) Registry() *ComponentRegistry {
	return m.registry
}

// OnConfigChange registers a callback invoked after every committed update.
func (m *Manager) OnConfigChange(cb ChangeCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// UpdateConfig validates and commits a new configuration, then notifies
// every registered callback and the ComponentRegistry.
func (m *Manager) UpdateConfig(newConfig *Config) error {
	if err := newConfig.Validate(); err != nil {
		return fmt.Errorf("config: invalid update: %w", err)
	}

	m.mu.Lock()
	old := m.config
	m.config = newConfig
	callbacks := append([]ChangeCallback(nil), m.callbacks...)
	registry := m.registry
	m.mu.Unlock()

	for _, cb := range callbacks {
		cb(old, newConfig)
	}
	if registry != nil {
		registry.ApplyUpdates(old, newConfig)
	}
	return nil
}

// ReloadConfig re-reads configFile from disk and commits it via UpdateConfig.
func (m *Manager) ReloadConfig() error {
	cfg, err := LoadConfig(m.configFile)
	if err != nil {
		return err
	}
	return m.UpdateConfig(cfg)
}

// SaveConfig persists the current configuration back to configFile.
func (m *Manager) SaveConfig() error {
	return SaveToFile(m.GetConfig(), m.configFile)
}

// ComponentUpdater is satisfied by subsystems that react to a live config
// change without a full process restart.
type ComponentUpdater interface {
	UpdateConfig(newConfig *Config) error
}

// LoggingUpdater is satisfied by components that can change their log
// level/debug mode without a restart.
type LoggingUpdater interface {
	UpdateDebugMode(debug bool) error
}

// QueueUpdater is satisfied by the queue coordinator: its active-download
// limit is the one knob that must be adjustable without a restart.
type QueueUpdater interface {
	UpdateMaxActiveDownloads(n int) error
}

// ComponentRegistry holds references to the live subsystems a config
// reload should push updates into.
type ComponentRegistry struct {
	Logging LoggingUpdater
	Queue   QueueUpdater
	logger  *slog.Logger
}

// NewComponentRegistry creates a registry; logger defaults to slog.Default().
func NewComponentRegistry(logger *slog.Logger) *ComponentRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &ComponentRegistry{logger: logger}
}

// RegisterLogging registers the logging subsystem's updater.
func (r *ComponentRegistry) RegisterLogging(u LoggingUpdater) { r.Logging = u }

// RegisterQueue registers the queue coordinator's updater.
func (r *ComponentRegistry) RegisterQueue(u QueueUpdater) { r.Queue = u }

// ApplyUpdates diffs oldConfig/newConfig and pushes the resulting deltas
// into every registered component.
func (r *ComponentRegistry) ApplyUpdates(oldConfig, newConfig *Config) {
	if oldConfig.Debug != newConfig.Debug && r.Logging != nil {
		if err := r.Logging.UpdateDebugMode(newConfig.Debug); err != nil {
			r.logger.Error("failed to update debug mode", "err", err)
		}
	}
	if oldConfig.Queue.MaxActiveDownloads != newConfig.Queue.MaxActiveDownloads && r.Queue != nil {
		if err := r.Queue.UpdateMaxActiveDownloads(newConfig.Queue.MaxActiveDownloads); err != nil {
			r.logger.Error("failed to update max active downloads", "err", err)
		}
	}
}
