package runtime

import (
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/smykla-labs/pluginhost/internal/metrics"
	"github.com/smykla-labs/pluginhost/pkg/logger"
	"github.com/smykla-labs/pluginhost/pkg/sdk"
	"github.com/smykla-labs/pluginhost/pkg/state"
)

const (
	// workerJoinTimeout bounds how long Stop waits for a plugin's worker.
	// A worker still alive after this is abandoned, logged, and counted;
	// cancellation is cooperative and never preemptive.
	workerJoinTimeout = 5 * time.Second
)

var (
	// ErrPluginNotRunning is returned when a command targets a plugin with
	// no live instance.
	ErrPluginNotRunning = errors.New("plugin is not running")

	// ErrCommandNotFound is returned when a command is not registered by
	// the plugin or its name fails the allow pattern.
	ErrCommandNotFound = errors.New("command not found")

	// commandNamePattern is the allow pattern for custom command names.
	// Dispatch goes through the plugin's explicit command table only, and
	// this pattern rejects malformed names before the lookup.
	commandNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,63}$`)
)

// Runtime supervises code-module-backed plugins.
type Runtime struct {
	mu          sync.RWMutex
	mods        map[string]*module
	loader      Loader
	log         logger.Logger
	metrics     *metrics.Metrics
	joinTimeout time.Duration
}

// module tracks the runtime state of one code-module plugin.
type module struct {
	mu      sync.Mutex
	name    string
	dir     string
	entry   string
	unit    *CodeUnit
	inst    sdk.Plugin
	stop    chan struct{}
	done    chan struct{}
	started time.Time
	status  state.Status
	lastErr string
}

// New creates a Runtime on top of the given code loader.
func New(loader Loader, log logger.Logger, m *metrics.Metrics) *Runtime {
	if m == nil {
		m = metrics.NewUnregistered()
	}

	return &Runtime{
		mods:        make(map[string]*module),
		loader:      loader,
		log:         log,
		metrics:     m,
		joinTimeout: workerJoinTimeout,
	}
}

// SetWorkerJoinTimeout overrides how long Stop waits for a worker before
// abandoning it. Non-positive values restore the default.
func (r *Runtime) SetWorkerJoinTimeout(d time.Duration) {
	if d <= 0 {
		d = workerJoinTimeout
	}

	r.joinTimeout = d
}

// Register adds a plugin to the runtime table. Code is loaded lazily on the
// first Start or an explicit Load.
func (r *Runtime) Register(name, dir, entry string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.mods[name]; ok {
		return
	}

	r.mods[name] = &module{
		name:   name,
		dir:    dir,
		entry:  entry,
		status: state.StatusStopped,
	}
}

func (r *Runtime) lookup(name string) (*module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.mods[name]

	return m, ok
}

// Load imports the plugin's code unit. Idempotent when already loaded. On
// failure the plugin enters Error but stays registered for inspection and
// retry.
func (r *Runtime) Load(name string) error {
	m, ok := r.lookup(name)
	if !ok {
		return errors.Newf("module plugin not registered: %s", name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return r.loadLocked(m)
}

// loadLocked imports the code unit. Caller holds m.mu.
func (r *Runtime) loadLocked(m *module) error {
	if m.unit != nil {
		return nil
	}

	unit, err := r.loader.Load(m.name, m.entry)
	if err != nil {
		m.status = state.StatusError
		m.lastErr = err.Error()

		r.log.Error("plugin load failed", "plugin", m.name, "error", err)

		return err
	}

	m.unit = unit

	return nil
}

// Start loads (if needed), instantiates the plugin with the merged config,
// and launches its Run loop on a dedicated worker with a fresh cancellation
// channel. Returns false if the plugin is already running or on any load or
// instantiation failure.
func (r *Runtime) Start(name string, cfg map[string]any) bool {
	m, ok := r.lookup(name)
	if !ok {
		r.log.Error("module plugin not registered", "plugin", name)

		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status == state.StatusRunning || m.status == state.StatusStopping {
		r.log.Error("plugin already running", "plugin", name)

		return false
	}

	m.status = state.StatusStarting

	if err := r.loadLocked(m); err != nil {
		r.metrics.StartFailures.WithLabelValues(name, "module").Inc()

		return false
	}

	inst, err := m.unit.Instantiate(cfg, m.dir)
	if err != nil {
		m.status = state.StatusError
		m.lastErr = err.Error()
		r.metrics.StartFailures.WithLabelValues(name, "module").Inc()

		r.log.Error("plugin instantiation failed", "plugin", name, "error", err)

		return false
	}

	stop := make(chan struct{})
	done := make(chan struct{})

	m.inst = inst
	m.stop = stop
	m.done = done
	m.started = time.Now()
	m.lastErr = ""
	m.status = state.StatusRunning
	r.metrics.Running.Inc()

	go r.runWorker(m, inst, stop, done)

	r.log.Info("started module plugin", "plugin", name)

	return true
}

// runWorker executes the plugin's Run loop. Plugins without a background
// loop return immediately and stay Running until Stop.
func (r *Runtime) runWorker(m *module, inst sdk.Plugin, stop <-chan struct{}, done chan struct{}) {
	err := runGuarded(inst, stop)

	close(done)

	if err == nil {
		return
	}

	select {
	case <-stop:
		// Shutdown was requested; a Run error on the way out is noise.
		r.log.Debug("plugin run returned during stop", "plugin", m.name, "error", err)

		return
	default:
	}

	m.mu.Lock()
	if m.status == state.StatusRunning {
		m.status = state.StatusError
		m.lastErr = err.Error()
		r.metrics.Running.Dec()
	}
	m.mu.Unlock()

	r.log.Error("plugin run failed", "plugin", m.name, "error", err)
}

// runGuarded invokes Run with panic recovery; interpreted plugin code must
// never take the host down.
func runGuarded(inst sdk.Plugin, stop <-chan struct{}) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Newf("plugin panicked: %v", rec)
		}
	}()

	return inst.Run(stop)
}

// Stop signals the cancellation channel, invokes the plugin's stop hook, and
// joins the worker with a bounded wait. The join runs with the per-plugin
// mutex released, so state reads stay snapshot-cheap while a slow worker
// drains. A worker that ignores the signal is abandoned and surfaced as a
// leak; the plugin still transitions out of Running. Stopping a plugin that
// is not running is a successful no-op.
func (r *Runtime) Stop(name string) bool {
	m, ok := r.lookup(name)
	if !ok {
		return true
	}

	m.mu.Lock()

	if m.inst == nil {
		m.status = state.StatusStopped
		m.mu.Unlock()

		return true
	}

	if m.status == state.StatusStopping {
		// Another Stop is mid-flight and will settle the state.
		m.mu.Unlock()

		return true
	}

	wasRunning := m.status == state.StatusRunning
	m.status = state.StatusStopping
	inst := m.inst
	stop := m.stop
	done := m.done

	m.mu.Unlock()

	close(stop)

	if err := stopGuarded(inst); err != nil {
		r.log.Error("plugin stop hook failed", "plugin", name, "error", err)
	}

	select {
	case <-done:
	case <-time.After(r.joinTimeout):
		// Cooperative cancellation only goes so far: the worker is
		// abandoned, not killed. Bounded, observable leak.
		r.metrics.WorkerLeaks.Inc()
		r.log.Error("plugin worker did not stop in time, abandoning",
			"plugin", name,
			"timeout", r.joinTimeout,
		)
	}

	m.mu.Lock()
	if wasRunning {
		r.metrics.Running.Dec()
	}

	// Drop only this generation's handles.
	if m.done == done {
		m.inst = nil
		m.stop = nil
		m.done = nil
		m.started = time.Time{}
		m.status = state.StatusStopped
	}
	m.mu.Unlock()

	r.log.Info("stopped module plugin", "plugin", name)

	return true
}

func stopGuarded(inst sdk.Plugin) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Newf("plugin stop panicked: %v", rec)
		}
	}()

	return inst.Stop()
}

// Restart stops the plugin and starts it again with the given config.
func (r *Runtime) Restart(name string, cfg map[string]any) bool {
	if !r.Stop(name) {
		return false
	}

	return r.Start(name, cfg)
}

// State derives the plugin's externally visible state. Unloaded and loaded
// both surface as Stopped; only one of the five public statuses escapes.
func (r *Runtime) State(name string) state.PluginState {
	m, ok := r.lookup(name)
	if !ok {
		return state.Stopped()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snap := state.PluginState{
		Status:    m.status,
		LastError: m.lastErr,
	}

	if m.status == state.StatusRunning {
		snap.Uptime = time.Since(m.started).Seconds()
	}

	return snap
}

// Execute dispatches a custom command on the plugin's live instance. The
// command must pass the allow pattern and be present in the plugin's
// explicit command table; there is no reflective method lookup.
func (r *Runtime) Execute(name, command string, args map[string]any) (any, error) {
	m, ok := r.lookup(name)
	if !ok {
		return nil, errors.Wrapf(ErrPluginNotRunning, "plugin %s not registered", name)
	}

	m.mu.Lock()
	inst := m.inst
	m.mu.Unlock()

	if inst == nil {
		return nil, errors.Wrapf(ErrPluginNotRunning, "plugin %s", name)
	}

	if !commandNamePattern.MatchString(command) {
		return nil, errors.Wrapf(ErrCommandNotFound, "invalid command name %q", command)
	}

	fn, ok := inst.Commands()[command]
	if !ok || fn == nil {
		return nil, errors.Wrapf(ErrCommandNotFound, "plugin %s has no command %q", name, command)
	}

	return executeGuarded(fn, args)
}

func executeGuarded(fn sdk.CommandFunc, args map[string]any) (res any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			res = nil
			err = errors.Newf("command panicked: %v", rec)
		}
	}()

	return fn(args)
}

// Reload purges the plugin's cached code unit so the next Start runs the
// current source. A running instance keeps executing the old code until it
// is restarted.
func (r *Runtime) Reload(name string) error {
	m, ok := r.lookup(name)
	if !ok {
		return errors.Newf("module plugin not registered: %s", name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	r.loader.Purge(name)
	m.unit = nil

	return r.loadLocked(m)
}

// Forget drops the plugin from the runtime table and purges its cached code
// unit, so a later registration starts from a clean slate. Callers stop the
// plugin first; a record with a live instance is left alone.
func (r *Runtime) Forget(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.mods[name]
	if !ok {
		return
	}

	m.mu.Lock()
	live := m.inst != nil
	m.mu.Unlock()

	if live {
		return
	}

	r.loader.Purge(name)
	delete(r.mods, name)
}

// Shutdown stops every module plugin.
func (r *Runtime) Shutdown() {
	r.mu.RLock()
	names := make([]string, 0, len(r.mods))
	for name := range r.mods {
		names = append(names, name)
	}
	r.mu.RUnlock()

	for _, name := range names {
		r.Stop(name)
	}
}

// Describe returns a short human-readable load state, used by operator
// tooling.
func (r *Runtime) Describe(name string) string {
	m, ok := r.lookup(name)
	if !ok {
		return "unregistered"
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.inst != nil:
		return "instantiated"
	case m.unit != nil:
		return "loaded"
	default:
		return fmt.Sprintf("unloaded (%s)", m.entry)
	}
}
