// Package xdg provides centralized path management following XDG Base
// Directory conventions. All user-level paths pluginhost touches on disk are
// defined here.
package xdg

import (
	"os"
	"path/filepath"
)

const appName = "pluginhost"

// --- XDG base directory functions ---

// ConfigHome returns $XDG_CONFIG_HOME or ~/.config.
func ConfigHome() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return v
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("~", ".config")
	}

	return filepath.Join(home, ".config")
}

// DataHome returns $XDG_DATA_HOME or ~/.local/share.
func DataHome() string {
	if v := os.Getenv("XDG_DATA_HOME"); v != "" {
		return v
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("~", ".local", "share")
	}

	return filepath.Join(home, ".local", "share")
}

// StateHome returns $XDG_STATE_HOME or ~/.local/state.
func StateHome() string {
	if v := os.Getenv("XDG_STATE_HOME"); v != "" {
		return v
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("~", ".local", "state")
	}

	return filepath.Join(home, ".local", "state")
}

// --- pluginhost directories ---

// ConfigDir returns the host configuration directory.
func ConfigDir() string {
	return filepath.Join(ConfigHome(), appName)
}

// PluginsDir returns the default root for user plugins.
func PluginsDir() string {
	return filepath.Join(DataHome(), appName, "plugins")
}

// BuiltinDir returns the default root for builtin plugins.
func BuiltinDir() string {
	return filepath.Join(DataHome(), appName, "builtin")
}

// StateDir returns the default directory for runtime data: persisted plugin
// configuration documents and process logs.
func StateDir() string {
	return filepath.Join(StateHome(), appName)
}

// HostLogFile returns the default path of the host's own log file.
func HostLogFile() string {
	return filepath.Join(StateDir(), appName+".log")
}
