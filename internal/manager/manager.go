// Package manager is the unified control surface over both plugin execution
// kinds. It composes the manifest registry with the process supervisor and
// the dynamic runtime behind one capability interface, enforces the
// protected-plugin policy, and owns config persistence.
package manager

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/smykla-labs/pluginhost/internal/configstore"
	"github.com/smykla-labs/pluginhost/internal/manifest"
	"github.com/smykla-labs/pluginhost/internal/metrics"
	"github.com/smykla-labs/pluginhost/internal/runtime"
	"github.com/smykla-labs/pluginhost/internal/supervisor"
	"github.com/smykla-labs/pluginhost/pkg/logger"
	"github.com/smykla-labs/pluginhost/pkg/state"
)

var (
	// ErrNotFound is returned when an operation targets an unknown plugin.
	ErrNotFound = errors.New("plugin not found")

	// ErrProtected is returned when stop, restart, or uninstall targets a
	// builtin (protected) plugin. The operation has no side effects.
	ErrProtected = errors.New("plugin is protected")
)

// Options configures a Manager.
type Options struct {
	// Roots are the plugin root directories, in discovery priority order.
	Roots []manifest.Root

	// ConfigDir holds persisted per-plugin config documents.
	ConfigDir string

	// LogsDir holds per-plugin process log files.
	LogsDir string

	// StopTimeout bounds graceful process termination before escalation.
	// Zero means the supervisor default.
	StopTimeout time.Duration
}

// instance pairs one discovered manifest with its bound execution backend.
// Instances are created eagerly at discovery; the backend acquires its
// resources (process spawn, code load) lazily at first start.
type instance struct {
	manifest *manifest.Manifest
	dir      string
	backend  Backend
}

// Manager is the plugin engine facade. The external control surface calls
// only this type.
type Manager struct {
	mu      sync.RWMutex
	plugins map[string]*instance

	// lmu guards locks; each entry serialises mutating operations for one
	// plugin name. Operations on different names run fully in parallel.
	lmu   sync.Mutex
	locks map[string]*sync.Mutex

	store       *configstore.Store
	sup         *supervisor.Supervisor
	rt          *runtime.Runtime
	log         logger.Logger
	metrics     *metrics.Metrics
	stopTimeout time.Duration
}

// New builds a Manager and populates its plugin table from the given roots.
func New(opts Options, log logger.Logger, m *metrics.Metrics) *Manager {
	if m == nil {
		m = metrics.NewUnregistered()
	}

	stopTimeout := opts.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = supervisor.DefaultStopTimeout
	}

	mgr := &Manager{
		plugins:     make(map[string]*instance),
		locks:       make(map[string]*sync.Mutex),
		store:       configstore.New(opts.ConfigDir, log),
		sup:         supervisor.New(opts.LogsDir, log, m),
		rt:          runtime.New(runtime.NewLoader(log), log, m),
		log:         log,
		metrics:     m,
		stopTimeout: stopTimeout,
	}

	registry := manifest.NewRegistry(log)
	for name, d := range registry.Discover(opts.Roots) {
		mgr.add(name, d)
	}

	return mgr
}

// add wires one discovered plugin into the table, binding the backend that
// matches the manifest's declared kind.
func (m *Manager) add(name string, d *manifest.Discovered) {
	inst := &instance{manifest: d.Manifest, dir: d.Dir}

	if d.Manifest.Kind() == manifest.KindProcess {
		inst.backend = &processBackend{
			name:        name,
			dir:         d.Dir,
			binary:      d.Manifest.Binary,
			stopTimeout: m.stopTimeout,
			sup:         m.sup,
			store:       m.store,
		}
	} else {
		m.rt.Register(name, d.Dir, filepath.Join(d.Dir, d.Manifest.Entry))
		inst.backend = &moduleBackend{name: name, rt: m.rt}
	}

	m.mu.Lock()
	m.plugins[name] = inst
	m.mu.Unlock()
}

// get returns the instance for name.
func (m *Manager) get(name string) (*instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inst, ok := m.plugins[name]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "plugin %s", name)
	}

	return inst, nil
}

// lockFor returns the per-plugin operation lock for name.
func (m *Manager) lockFor(name string) *sync.Mutex {
	m.lmu.Lock()
	defer m.lmu.Unlock()

	l, ok := m.locks[name]
	if !ok {
		l = &sync.Mutex{}
		m.locks[name] = l
	}

	return l
}

// List returns all known manifests, sorted by name.
func (m *Manager) List() []*manifest.Manifest {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*manifest.Manifest, 0, len(m.plugins))
	for _, inst := range m.plugins {
		out = append(out, inst.manifest)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out
}

// Get returns the manifest for name.
func (m *Manager) Get(name string) (*manifest.Manifest, error) {
	inst, err := m.get(name)
	if err != nil {
		return nil, err
	}

	return inst.manifest, nil
}

// BuiltinPlugins returns the names of all protected plugins, sorted.
func (m *Manager) BuiltinPlugins() []string {
	return m.names(true)
}

// UserPlugins returns the names of all unprotected plugins, sorted.
func (m *Manager) UserPlugins() []string {
	return m.names(false)
}

func (m *Manager) names(builtin bool) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.plugins))

	for name, inst := range m.plugins {
		if inst.manifest.Builtin == builtin {
			out = append(out, name)
		}
	}

	sort.Strings(out)

	return out
}

// Start merges the override onto the persisted (or default) configuration,
// persists the result, and delegates to the plugin's backend. A backend
// failure is reported as false, never as an error.
func (m *Manager) Start(name string, override map[string]any) (bool, error) {
	inst, err := m.get(name)
	if err != nil {
		return false, err
	}

	lock := m.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	merged := m.store.Merge(name, inst.manifest.DefaultConfig, override)

	if err := m.store.Save(name, merged); err != nil {
		m.log.Error("failed to persist plugin config", "plugin", name, "error", err)

		return false, nil
	}

	return inst.backend.Start(merged), nil
}

// Stop stops the plugin. Protected plugins fail fast with no side effects.
// Stopping an already-stopped plugin succeeds.
func (m *Manager) Stop(name string) (bool, error) {
	inst, err := m.get(name)
	if err != nil {
		return false, err
	}

	if inst.manifest.Builtin {
		return false, errors.Wrapf(ErrProtected, "cannot stop %s", name)
	}

	lock := m.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	return inst.backend.Stop(), nil
}

// Restart restarts the plugin with the currently persisted configuration and
// the manifest-known entry reference. Protected plugins fail fast.
func (m *Manager) Restart(name string) (bool, error) {
	inst, err := m.get(name)
	if err != nil {
		return false, err
	}

	if inst.manifest.Builtin {
		return false, errors.Wrapf(ErrProtected, "cannot restart %s", name)
	}

	lock := m.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	return m.restartLocked(name, inst), nil
}

// restartLocked runs one restart cycle. Caller holds the per-plugin lock.
func (m *Manager) restartLocked(name string, inst *instance) bool {
	m.metrics.Restarts.WithLabelValues(name).Inc()

	merged := m.store.Load(name, inst.manifest.DefaultConfig)

	return inst.backend.Restart(merged)
}

// Status returns the plugin's derived state. Never blocks behind mutating
// operations beyond the backend's snapshot read.
func (m *Manager) Status(name string) (state.PluginState, error) {
	inst, err := m.get(name)
	if err != nil {
		return state.PluginState{}, err
	}

	return inst.backend.State(), nil
}

// AllStatuses probes every plugin concurrently and returns the state table.
func (m *Manager) AllStatuses() map[string]state.PluginState {
	m.mu.RLock()
	snapshot := make(map[string]*instance, len(m.plugins))
	for name, inst := range m.plugins {
		snapshot[name] = inst
	}
	m.mu.RUnlock()

	var (
		out   = make(map[string]state.PluginState, len(snapshot))
		outMu sync.Mutex
		g     errgroup.Group
	)

	for name, inst := range snapshot {
		g.Go(func() error {
			st := inst.backend.State()

			outMu.Lock()
			out[name] = st
			outMu.Unlock()

			return nil
		})
	}

	_ = g.Wait()

	return out
}

// HealthCheck reports whether the plugin is currently running.
func (m *Manager) HealthCheck(name string) (bool, error) {
	st, err := m.Status(name)
	if err != nil {
		return false, err
	}

	return st.Status == state.StatusRunning, nil
}

// GetConfig returns the effective configuration: the persisted document
// merged over the manifest defaults.
func (m *Manager) GetConfig(name string) (map[string]any, error) {
	inst, err := m.get(name)
	if err != nil {
		return nil, err
	}

	return m.store.Load(name, inst.manifest.DefaultConfig), nil
}

// SetConfig overwrites the persisted document. If the plugin is running it
// is restarted so the new configuration takes effect; otherwise the document
// is persisted only.
func (m *Manager) SetConfig(name string, doc map[string]any) (bool, error) {
	inst, err := m.get(name)
	if err != nil {
		return false, err
	}

	lock := m.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	if err := m.store.Save(name, doc); err != nil {
		m.log.Error("failed to persist plugin config", "plugin", name, "error", err)

		return false, nil
	}

	if inst.backend.State().Status == state.StatusRunning {
		return m.restartLocked(name, inst), nil
	}

	return true, nil
}

// Logs returns up to lines trailing log lines for the plugin. Module-backed
// plugins have no process log and return an explanatory placeholder.
func (m *Manager) Logs(name string, lines int) (string, error) {
	inst, err := m.get(name)
	if err != nil {
		return "", err
	}

	return inst.backend.Logs(lines), nil
}

// Execute dispatches a custom command. Process-backed plugins always return
// ErrNotSupported without attempting dispatch.
func (m *Manager) Execute(name, command string, args map[string]any) (any, error) {
	inst, err := m.get(name)
	if err != nil {
		return nil, err
	}

	return inst.backend.Execute(command, args)
}

// Reload purges a module plugin's cached code unit so the next start runs
// the current source. Process-backed plugins return ErrNotSupported.
func (m *Manager) Reload(name string) error {
	inst, err := m.get(name)
	if err != nil {
		return err
	}

	lock := m.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	return inst.backend.Reload()
}

// Uninstall stops the plugin if running, removes its persisted artifacts,
// and drops it from the table. Protected plugins fail fast.
func (m *Manager) Uninstall(name string) (bool, error) {
	inst, err := m.get(name)
	if err != nil {
		return false, err
	}

	if inst.manifest.Builtin {
		return false, errors.Wrapf(ErrProtected, "cannot uninstall %s", name)
	}

	lock := m.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	if !inst.backend.Stop() {
		return false, nil
	}

	if err := m.store.Remove(name); err != nil {
		m.log.Error("failed to remove persisted config", "plugin", name, "error", err)
	}

	if inst.manifest.Kind() == manifest.KindProcess {
		if err := os.Remove(m.sup.LogFile(name)); err != nil && !os.IsNotExist(err) {
			m.log.Error("failed to remove plugin log file", "plugin", name, "error", err)
		}
	}

	inst.backend.Forget()

	m.mu.Lock()
	delete(m.plugins, name)
	m.mu.Unlock()

	m.lmu.Lock()
	delete(m.locks, name)
	m.lmu.Unlock()

	m.log.Info("uninstalled plugin", "plugin", name)

	return true, nil
}

// Shutdown stops every plugin on both backends.
func (m *Manager) Shutdown() {
	m.sup.Shutdown()
	m.rt.Shutdown()
}

// AddPluginForTesting injects a plugin with a caller-supplied backend,
// bypassing discovery. Tests use this to exercise manager policy without
// real processes or interpreted code.
func (m *Manager) AddPluginForTesting(man *manifest.Manifest, b Backend) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.plugins[man.Name] = &instance{manifest: man, dir: "", backend: b}
}
