// Package supervisor owns the lifecycle of process-backed plugins: spawning,
// graceful and forceful termination, liveness probing, resource sampling, and
// log capture.
package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/smykla-labs/pluginhost/internal/metrics"
	"github.com/smykla-labs/pluginhost/pkg/logger"
	"github.com/smykla-labs/pluginhost/pkg/state"
)

const (
	// DefaultStopTimeout bounds graceful termination before SIGKILL.
	DefaultStopTimeout = 10 * time.Second

	logFilePermissions = 0o644
	logDirPermissions  = 0o755

	// adoptedPollInterval paces signal-0 polling while waiting for an
	// adopted process to die; adopted processes are not our children, so
	// there is no exit status to wait on.
	adoptedPollInterval = 50 * time.Millisecond
)

// StartSpec describes one process launch. The path always comes from the
// plugin's manifest, never from a live process handle, so restarts keep
// working after the process has already exited.
type StartSpec struct {
	Path    string
	Args    []string
	Env     map[string]string
	WorkDir string
	Port    int
}

// Supervisor manages one OS process per plugin name. Each successful spawn
// writes a pid file next to the plugin's log so a later engine instance can
// adopt processes that outlived the one that spawned them.
type Supervisor struct {
	mu      sync.RWMutex
	procs   map[string]*process
	logsDir string
	log     logger.Logger
	metrics *metrics.Metrics
}

// process tracks the runtime state of one supervised plugin process. For our
// own children the reaper's done channel settles liveness; adopted processes
// have no handle and are probed with signal 0 instead.
type process struct {
	// mu serialises the check-then-spawn sequence and all state
	// transitions for this plugin.
	mu      sync.Mutex
	name    string
	logFile string
	pidFile string
	status  state.Status
	cmd     *exec.Cmd
	pid     int
	adopted bool
	started time.Time
	port    int
	lastErr string
	// done is closed by the reaper goroutine once Wait returns.
	done chan struct{}
}

// New creates a Supervisor writing per-plugin logs under logsDir.
func New(logsDir string, log logger.Logger, m *metrics.Metrics) *Supervisor {
	if m == nil {
		m = metrics.NewUnregistered()
	}

	return &Supervisor{
		procs:   make(map[string]*process),
		logsDir: logsDir,
		log:     log,
		metrics: m,
	}
}

// entry returns the tracked process for name, creating it on first use. A
// freshly created entry adopts a live process recorded by a previous engine
// instance's pid file.
func (s *Supervisor) entry(name string) *process {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.procs[name]
	if !ok {
		p = &process{
			name:    name,
			logFile: filepath.Join(s.logsDir, name+".log"),
			pidFile: filepath.Join(s.logsDir, name+".pid"),
			status:  state.StatusStopped,
		}
		s.adopt(p)
		s.procs[name] = p
	}

	return p
}

// adopt picks up a process spawned by an earlier engine instance. The pid
// file outlives the engine that wrote it; a signal-0 probe decides whether
// the recorded pid is still alive. Stale files are removed.
func (s *Supervisor) adopt(p *process) {
	pid, port, started, ok := readPidFile(p.pidFile)
	if !ok {
		return
	}

	if syscall.Kill(pid, 0) != nil {
		_ = os.Remove(p.pidFile)

		return
	}

	p.status = state.StatusRunning
	p.pid = pid
	p.port = port
	p.adopted = true
	p.started = started
	s.metrics.Running.Inc()

	s.log.Info("adopted plugin process", "plugin", p.name, "pid", pid)
}

// Start spawns the plugin process with stdout/stderr appended to its log
// file. Returns false without side effects if the plugin is already running.
// The per-plugin mutex makes the check-then-spawn sequence exclusive, so
// concurrent Start calls can never spawn duplicate processes.
func (s *Supervisor) Start(name string, spec StartSpec) bool {
	p := s.entry(name)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.aliveLocked() {
		s.log.Error("plugin already running", "plugin", name, "pid", p.pid)

		return false
	}

	p.status = state.StatusStarting

	if err := os.MkdirAll(s.logsDir, logDirPermissions); err != nil {
		return s.failLocked(p, "failed to create logs directory", err)
	}

	//nolint:gosec // log path is derived from the plugin name under our data dir
	logf, err := os.OpenFile(p.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermissions)
	if err != nil {
		return s.failLocked(p, "failed to open plugin log file", err)
	}

	//nolint:gosec // the executable path comes from the validated manifest
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Stdout = logf
	cmd.Stderr = logf
	cmd.Dir = spec.WorkDir
	cmd.Env = buildEnv(spec.Env)

	if err := cmd.Start(); err != nil {
		_ = logf.Close()

		return s.failLocked(p, "failed to spawn plugin process", err)
	}

	// The child holds its own descriptor; the parent's copy is done.
	_ = logf.Close()

	done := make(chan struct{})

	p.cmd = cmd
	p.pid = cmd.Process.Pid
	p.adopted = false
	p.done = done
	p.started = time.Now()
	p.port = spec.Port
	p.lastErr = ""

	// Reaper: collects the exit status so liveness probes see the death
	// and the kernel can drop the zombie.
	go func() {
		_ = cmd.Wait()
		close(done)
	}()

	if !p.aliveLocked() {
		return s.failLocked(p, "plugin process exited immediately", nil)
	}

	writePidFile(p.pidFile, p.pid, spec.Port)

	p.status = state.StatusRunning
	s.metrics.Running.Inc()

	s.log.Info("started plugin process",
		"plugin", name,
		"pid", cmd.Process.Pid,
		"path", spec.Path,
	)

	return true
}

// Stop terminates the plugin process: SIGTERM, bounded wait, then SIGKILL
// with a second wait. The wait happens with the per-plugin mutex released,
// so state reads stay snapshot-cheap while a slow stop is in flight.
// Stopping a plugin that is not running is a successful no-op.
func (s *Supervisor) Stop(name string, timeout time.Duration) bool {
	p := s.entry(name)

	p.mu.Lock()

	if p.status == state.StatusStopping {
		// Another Stop is mid-flight and will settle the state.
		p.mu.Unlock()

		return true
	}

	if !p.aliveLocked() {
		if p.status == state.StatusRunning {
			// Died externally and was never re-probed.
			s.metrics.Running.Dec()
		}

		p.clearLocked(state.StatusStopped)
		p.mu.Unlock()

		return true
	}

	p.status = state.StatusStopping
	pid := p.pid
	done := p.done
	adopted := p.adopted

	p.mu.Unlock()

	// Any signal failure here means the process is already gone; the
	// liveness wait settles the race either way.
	_ = syscall.Kill(pid, syscall.SIGTERM)

	if !waitGone(done, pid, adopted, timeout) {
		s.log.Error("graceful stop timed out, killing", "plugin", name, "pid", pid)

		_ = syscall.Kill(pid, syscall.SIGKILL)
		waitGone(done, pid, adopted, timeout)
	}

	p.mu.Lock()
	s.metrics.Running.Dec()

	// A concurrent Start may have installed a fresh process once this one
	// died; only clear this generation.
	if p.status == state.StatusStopping && p.pid == pid {
		p.clearLocked(state.StatusStopped)
	}
	p.mu.Unlock()

	s.log.Info("stopped plugin process", "plugin", name, "pid", pid)

	return true
}

// waitGone waits for the process to die: the reaper's done channel for our
// own children, signal-0 polling for adopted ones. Returns false on timeout.
func waitGone(done <-chan struct{}, pid int, adopted bool, timeout time.Duration) bool {
	if !adopted {
		select {
		case <-done:
			return true
		case <-time.After(timeout):
			return false
		}
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if syscall.Kill(pid, 0) != nil {
			return true
		}

		time.Sleep(adoptedPollInterval)
	}

	return syscall.Kill(pid, 0) != nil
}

// Restart stops the plugin (if running) and starts it again from the given
// spec. The spec carries the manifest's executable path.
func (s *Supervisor) Restart(name string, spec StartSpec) bool {
	if !s.Stop(name, DefaultStopTimeout) {
		return false
	}

	return s.Start(name, spec)
}

// State derives the plugin's current state by probing the OS, so a process
// killed externally self-corrects to Stopped on the next read.
func (s *Supervisor) State(name string) state.PluginState {
	p := s.entry(name)

	p.mu.Lock()
	status, pid, adopted, done, started, port, lastErr :=
		p.status, p.pid, p.adopted, p.done, p.started, p.port, p.lastErr
	p.mu.Unlock()

	if pid == 0 {
		return state.PluginState{Status: status, LastError: lastErr}
	}

	exited := false

	if adopted {
		exited = syscall.Kill(pid, 0) != nil
	} else {
		select {
		case <-done:
			exited = true
		default:
		}
	}

	if exited && status == state.StatusRunning {
		// Externally killed. TryLock keeps the read path from blocking
		// behind an in-flight Stop; whoever holds the lock settles the
		// state themselves.
		if p.mu.TryLock() {
			if p.status == state.StatusRunning && p.pid == pid {
				s.metrics.Running.Dec()
				p.clearLocked(state.StatusStopped)
			}
			p.mu.Unlock()
		}

		s.log.Info("plugin process gone, marking stopped", "plugin", name)

		return state.Stopped()
	}

	snap := state.PluginState{
		Status:    status,
		PID:       pid,
		Port:      port,
		LastError: lastErr,
	}

	if status == state.StatusRunning {
		snap.Uptime = time.Since(started).Seconds()
		snap.MemoryMB, snap.CPUPercent = sampleUsage(pid, snap.Uptime)
	}

	return snap
}

// Logs returns up to lines trailing lines of the plugin's log file, or an
// empty string when no log exists yet.
func (s *Supervisor) Logs(name string, lines int) string {
	logFile := filepath.Join(s.logsDir, name+".log")

	return tailFile(logFile, lines)
}

// LogFile returns the path of the plugin's log file.
func (s *Supervisor) LogFile(name string) string {
	return filepath.Join(s.logsDir, name+".log")
}

// Forget drops the tracked record for name so a later registration starts
// from a clean slate. Callers stop the process first; a record with a live
// process is left alone.
func (s *Supervisor) Forget(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.procs[name]
	if !ok {
		return
	}

	p.mu.Lock()
	alive := p.aliveLocked()
	p.mu.Unlock()

	if alive {
		return
	}

	delete(s.procs, name)
}

// Shutdown stops every supervised process.
func (s *Supervisor) Shutdown() {
	s.mu.RLock()
	names := make([]string, 0, len(s.procs))
	for name := range s.procs {
		names = append(names, name)
	}
	s.mu.RUnlock()

	for _, name := range names {
		s.Stop(name, DefaultStopTimeout)
	}
}

// failLocked records a start failure. Caller holds p.mu.
func (s *Supervisor) failLocked(p *process, msg string, err error) bool {
	detail := msg
	if err != nil {
		detail = fmt.Sprintf("%s: %v", msg, err)
	}

	p.status = state.StatusError
	p.lastErr = detail
	p.cmd = nil
	p.pid = 0
	p.done = nil
	s.metrics.StartFailures.WithLabelValues(p.name, "process").Inc()

	s.log.Error("plugin start failed", "plugin", p.name, "error", detail)

	return false
}

// aliveLocked probes process liveness. Caller holds p.mu.
func (p *process) aliveLocked() bool {
	if p.adopted {
		return p.pid > 0 && syscall.Kill(p.pid, 0) == nil
	}

	if p.cmd == nil || p.cmd.Process == nil || p.done == nil {
		return false
	}

	select {
	case <-p.done:
		return false
	default:
	}

	// Signal 0 probes existence without delivering anything. Any error is
	// treated as "process gone", not propagated.
	return p.cmd.Process.Signal(syscall.Signal(0)) == nil
}

// clearLocked drops the process handle and its pid file. Caller holds p.mu.
func (p *process) clearLocked(status state.Status) {
	p.status = status
	p.cmd = nil
	p.pid = 0
	p.adopted = false
	p.done = nil
	p.started = time.Time{}

	if p.pidFile != "" {
		_ = os.Remove(p.pidFile)
	}
}

// writePidFile records "pid port" for adoption by a later engine instance.
func writePidFile(path string, pid, port int) {
	_ = os.WriteFile(path, []byte(fmt.Sprintf("%d %d\n", pid, port)), logFilePermissions)
}

// readPidFile parses a pid file written by writePidFile. The file's mtime
// stands in for the start time, which the spawning process took with it.
func readPidFile(path string) (pid, port int, started time.Time, ok bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, time.Time{}, false
	}

	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, 0, time.Time{}, false
	}

	pid, err = strconv.Atoi(fields[0])
	if err != nil || pid <= 0 {
		return 0, 0, time.Time{}, false
	}

	if len(fields) > 1 {
		port, _ = strconv.Atoi(fields[1])
	}

	started = time.Now()
	if info, err := os.Stat(path); err == nil {
		started = info.ModTime()
	}

	return pid, port, started, true
}

func buildEnv(extra map[string]string) []string {
	env := os.Environ()
	for k, v := range extra {
		env = append(env, k+"="+v)
	}

	return env
}
