package manager

import (
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/smykla-labs/pluginhost/internal/configstore"
	"github.com/smykla-labs/pluginhost/internal/runtime"
	"github.com/smykla-labs/pluginhost/internal/supervisor"
	"github.com/smykla-labs/pluginhost/pkg/state"
)

// ErrNotSupported is returned for operations a plugin's execution kind
// cannot perform, such as command dispatch on a process-backed plugin.
var ErrNotSupported = errors.New("operation not supported for this plugin kind")

// Backend is the capability interface both execution kinds implement. The
// concrete backend is selected once at discovery from the manifest's declared
// kind, never via runtime type inspection.
type Backend interface {
	Start(cfg map[string]any) bool
	Stop() bool
	Restart(cfg map[string]any) bool
	State() state.PluginState
	Logs(lines int) string
	Execute(command string, args map[string]any) (any, error)
	Reload() error
	// Forget releases per-plugin tracking state after an uninstall, so a
	// later install of the same name starts from a clean slate.
	Forget()
}

// processBackend runs the plugin as an independent OS process under the
// supervisor.
type processBackend struct {
	name        string
	dir         string
	binary      string
	stopTimeout time.Duration
	sup         *supervisor.Supervisor
	store       *configstore.Store
}

func (b *processBackend) Start(cfg map[string]any) bool {
	return b.sup.Start(b.name, b.buildSpec(cfg))
}

func (b *processBackend) Stop() bool {
	return b.sup.Stop(b.name, b.stopTimeout)
}

func (b *processBackend) Restart(cfg map[string]any) bool {
	return b.sup.Restart(b.name, b.buildSpec(cfg))
}

func (b *processBackend) State() state.PluginState {
	return b.sup.State(b.name)
}

func (b *processBackend) Logs(lines int) string {
	return b.sup.Logs(b.name, lines)
}

func (*processBackend) Execute(string, map[string]any) (any, error) {
	// Never attempt dispatch: process-backed plugins have no command
	// surface in this core.
	return nil, errors.Wrap(ErrNotSupported, "process-backed plugins do not accept commands")
}

func (*processBackend) Reload() error {
	return errors.Wrap(ErrNotSupported, "process-backed plugins have no code unit to reload")
}

func (b *processBackend) Forget() {
	b.sup.Forget(b.name)
}

// buildSpec derives the process launch from the merged configuration: the
// config keys "args" and "env" extend the command line and environment, a
// persisted document is passed along via "-c <path>", and "port" records the
// port the plugin advertises. The executable path always comes from the
// manifest.
func (b *processBackend) buildSpec(cfg map[string]any) supervisor.StartSpec {
	spec := supervisor.StartSpec{
		Path:    filepath.Join(b.dir, b.binary),
		WorkDir: b.dir,
		Port:    intValue(cfg["port"]),
	}

	if raw, ok := cfg["args"].([]any); ok {
		for _, a := range raw {
			if s, ok := a.(string); ok {
				spec.Args = append(spec.Args, s)
			}
		}
	}

	if b.store.Exists(b.name) {
		spec.Args = append(spec.Args, "-c", b.store.Path(b.name))
	}

	if raw, ok := cfg["env"].(map[string]any); ok {
		spec.Env = make(map[string]string, len(raw))

		for k, v := range raw {
			if s, ok := v.(string); ok {
				spec.Env[k] = s
			}
		}
	}

	return spec
}

// moduleBackend runs the plugin as interpreted in-process code under the
// dynamic runtime.
type moduleBackend struct {
	name string
	rt   *runtime.Runtime
}

func (b *moduleBackend) Start(cfg map[string]any) bool {
	return b.rt.Start(b.name, cfg)
}

func (b *moduleBackend) Stop() bool {
	return b.rt.Stop(b.name)
}

func (b *moduleBackend) Restart(cfg map[string]any) bool {
	return b.rt.Restart(b.name, cfg)
}

func (b *moduleBackend) State() state.PluginState {
	return b.rt.State(b.name)
}

func (b *moduleBackend) Logs(int) string {
	return "module plugin " + b.name + " runs in-process and has no process log"
}

func (b *moduleBackend) Execute(command string, args map[string]any) (any, error) {
	return b.rt.Execute(b.name, command, args)
}

func (b *moduleBackend) Reload() error {
	return b.rt.Reload(b.name)
}

func (b *moduleBackend) Forget() {
	b.rt.Forget(b.name)
}

// intValue coerces the numeric types JSON and YAML decoding produce.
func intValue(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
