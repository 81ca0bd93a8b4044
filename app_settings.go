package main

import (
	"openwork/internal/logging"
	"openwork/internal/settings"
)

// =============================================================================
// SETTINGS METHODS (Bound to frontend)
// =============================================================================

// GetSettings returns current application settings
func (a *App) GetSettings() settings.Settings {
	if a.engine == nil {
		return settings.Settings{}
	}
	return a.engine.Settings().GetSettings()
}

// SaveSettings saves application settings and applies runtime changes
func (a *App) SaveSettings(s settings.Settings) error {
	e, err := a.requireEngine()
	if err != nil {
		return err
	}
	if err := e.Settings().SaveSettings(s); err != nil {
		return err
	}

	if s.DebugLogging {
		logging.SetLevel("debug")
	} else {
		logging.SetLevel(e.Config().Logging.Level)
	}
	return nil
}

// GetConfigPath returns the path to the config directory (~/.openwork)
func (a *App) GetConfigPath() string {
	return a.configDir
}

// GetVersion returns the application version.
func (a *App) GetVersion() string {
	return Version
}
