// Package sdk provides the public API for pluginhost code-module plugin authors.
//
// Code-module plugins are plain Go source files interpreted in-process by the
// host. The entry file declares a package and exports a constructor:
//
//	package greeter
//
//	import "github.com/smykla-labs/pluginhost/pkg/sdk"
//
//	type plugin struct {
//		cfg map[string]any
//	}
//
//	func New(cfg map[string]any, dir string) (sdk.Plugin, error) {
//		return &plugin{cfg: cfg}, nil
//	}
//
//	func (p *plugin) Info() sdk.Info {
//		return sdk.Info{Name: "greeter", Version: "1.0.0"}
//	}
//
//	func (p *plugin) Run(stop <-chan struct{}) error {
//		<-stop // block until the host asks us to shut down
//		return nil
//	}
//
//	func (p *plugin) Stop() error { return nil }
//
//	func (p *plugin) Commands() map[string]sdk.CommandFunc {
//		return map[string]sdk.CommandFunc{
//			"greet": func(args map[string]any) (any, error) {
//				return "hello", nil
//			},
//		}
//	}
//
// Plugins without a background loop return nil from Run immediately; the
// host keeps them Running until Stop is requested.
package sdk

// Plugin is the interface every code-module plugin must implement.
type Plugin interface {
	// Info returns metadata about the plugin.
	Info() Info

	// Run is the plugin's long-lived entry point. It is invoked on a
	// dedicated worker and must return promptly once the stop channel is
	// closed. Cancellation is cooperative: the host never preempts a
	// running plugin, it only signals and waits a bounded time.
	Run(stop <-chan struct{}) error

	// Stop is the explicit shutdown hook, called before the host joins the
	// worker. Implementations that do all their teardown in Run may return
	// nil here.
	Stop() error

	// Commands returns the plugin's custom command table. The host only
	// dispatches commands registered here; there is no reflective method
	// lookup.
	Commands() map[string]CommandFunc
}

// CommandFunc handles one custom command invocation.
type CommandFunc func(args map[string]any) (any, error)

// Info contains plugin metadata.
type Info struct {
	// Name is the unique plugin identifier.
	Name string `json:"name"`

	// Version is the plugin version (semver recommended).
	Version string `json:"version"`

	// Description is a human-readable description of what the plugin does.
	Description string `json:"description,omitempty"`

	// Author is the plugin author or organization.
	Author string `json:"author,omitempty"`

	// URL is a link to the plugin's homepage or documentation.
	URL string `json:"url,omitempty"`
}

// Result is a conventional command result payload.
type Result struct {
	// Success indicates whether the command succeeded.
	Success bool `json:"success"`

	// Message is a human-readable summary.
	Message string `json:"message,omitempty"`

	// Data carries command-specific structured output.
	Data any `json:"data,omitempty"`
}

// OK returns a successful Result with the given data.
func OK(data any) *Result {
	return &Result{Success: true, Data: data}
}

// OKMessage returns a successful Result with a message only.
func OKMessage(message string) *Result {
	return &Result{Success: true, Message: message}
}

// Fail returns a failed Result with a message.
func Fail(message string) *Result {
	return &Result{Success: false, Message: message}
}
