package slogutil

import (
	"log/slog"
	"sync"
)

// DebugModeUpdater implements a live-updatable debug/info level switch on
// top of DynamicLeveler, satisfying config.LoggingUpdater so a config
// reload can flip verbosity without restarting the daemon.
type DebugModeUpdater struct {
	leveler *DynamicLeveler
	mu      sync.RWMutex
	debug   bool
}

// NewDebugModeUpdater wraps leveler, initializing it from initialDebug.
func NewDebugModeUpdater(leveler *DynamicLeveler, initialDebug bool) *DebugModeUpdater {
	u := &DebugModeUpdater{leveler: leveler, debug: initialDebug}
	u.apply(initialDebug)
	return u
}

// UpdateDebugMode implements config.LoggingUpdater.
func (u *DebugModeUpdater) UpdateDebugMode(debug bool) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.debug == debug {
		return nil
	}
	u.debug = debug
	u.apply(debug)
	return nil
}

// GetDebugMode reports the current debug setting.
func (u *DebugModeUpdater) GetDebugMode() bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.debug
}

func (u *DebugModeUpdater) apply(debug bool) {
	if debug {
		u.leveler.SetLevel(slog.LevelDebug)
	} else {
		u.leveler.SetLevel(slog.LevelInfo)
	}
}
