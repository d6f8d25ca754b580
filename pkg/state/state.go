// Package state defines the externally visible runtime state of a plugin.
//
// Status is always one of the five enumerated values; callers never see a
// backend-specific state. Snapshots are derived on demand by probing the
// owning backend, so an externally killed process shows up as Stopped on the
// next read.
package state

// Status is the lifecycle status of a plugin.
type Status string

const (
	// StatusStopped indicates the plugin is not running.
	StatusStopped Status = "stopped"

	// StatusStarting indicates the plugin is being started.
	StatusStarting Status = "starting"

	// StatusRunning indicates the plugin is running.
	StatusRunning Status = "running"

	// StatusStopping indicates the plugin is shutting down.
	StatusStopping Status = "stopping"

	// StatusError indicates the last operation on the plugin failed.
	StatusError Status = "error"
)

// String returns the status as its wire representation.
func (s Status) String() string {
	return string(s)
}

// Valid reports whether s is one of the five defined statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusStopped, StatusStarting, StatusRunning, StatusStopping, StatusError:
		return true
	}

	return false
}

// PluginState is a point-in-time snapshot of a plugin's runtime state.
type PluginState struct {
	// Status is one of the five lifecycle statuses.
	Status Status `json:"status"`

	// PID is the OS process id for process-backed plugins, 0 otherwise.
	PID int `json:"pid,omitempty"`

	// Port is the port the plugin advertises, 0 if none.
	Port int `json:"port,omitempty"`

	// Uptime is the time since the last successful start, in seconds.
	// Zero unless Status is Running.
	Uptime float64 `json:"uptime"`

	// MemoryMB is the resident memory of the backing process in megabytes.
	// Zero when sampling fails or for code-module plugins.
	MemoryMB float64 `json:"memory_mb"`

	// CPUPercent is the average CPU usage of the backing process since start.
	// Zero when sampling fails or for code-module plugins.
	CPUPercent float64 `json:"cpu_percent"`

	// LastError holds the message of the last lifecycle failure, if any.
	LastError string `json:"last_error,omitempty"`
}

// Stopped returns a snapshot for a plugin that is not running.
func Stopped() PluginState {
	return PluginState{Status: StatusStopped}
}

// Errored returns a snapshot for a plugin whose last operation failed.
func Errored(msg string) PluginState {
	return PluginState{Status: StatusError, LastError: msg}
}
