package manager_test

import (
	"os"
	"path/filepath"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/smykla-labs/pluginhost/internal/manager"
	"github.com/smykla-labs/pluginhost/internal/manifest"
	"github.com/smykla-labs/pluginhost/pkg/logger"
	"github.com/smykla-labs/pluginhost/pkg/state"
)

// fakeBackend records lifecycle calls and serves canned state, so policy
// tests run without real processes or interpreted code.
type fakeBackend struct {
	mu       sync.Mutex
	status   state.Status
	starts   int
	stops    int
	restarts int
	reloads  int
	forgets  int
	lastCfg  map[string]any
	startOK  bool
	stopOK   bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{status: state.StatusStopped, startOK: true, stopOK: true}
}

func (f *fakeBackend) Start(cfg map[string]any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.starts++
	f.lastCfg = cfg

	if f.startOK {
		f.status = state.StatusRunning
	}

	return f.startOK
}

func (f *fakeBackend) Stop() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.stops++

	if f.stopOK {
		f.status = state.StatusStopped
	}

	return f.stopOK
}

func (f *fakeBackend) Restart(cfg map[string]any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.restarts++
	f.lastCfg = cfg
	f.status = state.StatusRunning

	return true
}

func (f *fakeBackend) State() state.PluginState {
	f.mu.Lock()
	defer f.mu.Unlock()

	return state.PluginState{Status: f.status}
}

func (f *fakeBackend) Logs(int) string {
	return "fake log output\n"
}

func (f *fakeBackend) Execute(command string, args map[string]any) (any, error) {
	return map[string]any{"command": command, "args": args}, nil
}

func (f *fakeBackend) Reload() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.reloads++

	return nil
}

func (f *fakeBackend) Forget() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.forgets++
}

func (f *fakeBackend) snapshot() fakeBackend {
	f.mu.Lock()
	defer f.mu.Unlock()

	return fakeBackend{
		status:   f.status,
		starts:   f.starts,
		stops:    f.stops,
		restarts: f.restarts,
		reloads:  f.reloads,
		forgets:  f.forgets,
		lastCfg:  f.lastCfg,
	}
}

var _ = Describe("Manager", func() {
	var (
		mgr     *manager.Manager
		backend *fakeBackend
	)

	newEmptyManager := func() *manager.Manager {
		return manager.New(manager.Options{
			Roots:     nil,
			ConfigDir: filepath.Join(GinkgoT().TempDir(), "config"),
			LogsDir:   filepath.Join(GinkgoT().TempDir(), "logs"),
		}, logger.NewNoOpLogger(), nil)
	}

	addFake := func(name string, builtin bool, defaults map[string]any) *fakeBackend {
		b := newFakeBackend()
		mgr.AddPluginForTesting(&manifest.Manifest{
			Name:          name,
			Version:       "1.0.0",
			Binary:        name + "d",
			Builtin:       builtin,
			DefaultConfig: defaults,
		}, b)

		return b
	}

	BeforeEach(func() {
		mgr = newEmptyManager()
		backend = addFake("weather", false, map[string]any{"port": 8080})
	})

	Describe("Get and List", func() {
		It("returns manifests sorted by name", func() {
			addFake("alpha", false, nil)

			plugins := mgr.List()
			Expect(plugins).To(HaveLen(2))
			Expect(plugins[0].Name).To(Equal("alpha"))
			Expect(plugins[1].Name).To(Equal("weather"))
		})

		It("errors for an unknown plugin", func() {
			_, err := mgr.Get("ghost")

			Expect(err).To(MatchError(manager.ErrNotFound))
		})
	})

	Describe("BuiltinPlugins and UserPlugins", func() {
		It("partitions plugins by the protected flag", func() {
			addFake("core", true, nil)

			Expect(mgr.BuiltinPlugins()).To(Equal([]string{"core"}))
			Expect(mgr.UserPlugins()).To(Equal([]string{"weather"}))
		})
	})

	Describe("Start", func() {
		It("merges the override and delegates to the backend", func() {
			ok, err := mgr.Start("weather", map[string]any{"units": "metric"})

			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())

			snap := backend.snapshot()
			Expect(snap.starts).To(Equal(1))
			Expect(snap.lastCfg).To(HaveKeyWithValue("port", 8080))
			Expect(snap.lastCfg).To(HaveKeyWithValue("units", "metric"))
		})

		It("persists the merged config for later reads", func() {
			_, err := mgr.Start("weather", map[string]any{"units": "metric"})
			Expect(err).NotTo(HaveOccurred())

			cfg, err := mgr.GetConfig("weather")
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg).To(HaveKeyWithValue("units", "metric"))
		})

		It("reports a backend refusal as false, not as an error", func() {
			backend.startOK = false

			ok, err := mgr.Start("weather", nil)

			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})

		It("errors for an unknown plugin", func() {
			_, err := mgr.Start("ghost", nil)

			Expect(err).To(MatchError(manager.ErrNotFound))
		})
	})

	Describe("Stop", func() {
		It("delegates to the backend", func() {
			ok, err := mgr.Stop("weather")

			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(backend.snapshot().stops).To(Equal(1))
		})

		It("refuses to stop a builtin plugin without side effects", func() {
			core := addFake("core", true, nil)

			_, err := mgr.Stop("core")

			Expect(err).To(MatchError(manager.ErrProtected))
			Expect(core.snapshot().stops).To(BeZero())
		})
	})

	Describe("Restart", func() {
		It("reloads the persisted config and delegates", func() {
			_, err := mgr.SetConfig("weather", map[string]any{"units": "metric"})
			Expect(err).NotTo(HaveOccurred())

			ok, err := mgr.Restart("weather")

			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())

			snap := backend.snapshot()
			Expect(snap.restarts).To(BeNumerically(">=", 1))
			Expect(snap.lastCfg).To(HaveKeyWithValue("units", "metric"))
			Expect(snap.lastCfg).To(HaveKeyWithValue("port", 8080))
		})

		It("refuses to restart a builtin plugin", func() {
			core := addFake("core", true, nil)

			_, err := mgr.Restart("core")

			Expect(err).To(MatchError(manager.ErrProtected))
			Expect(core.snapshot().restarts).To(BeZero())
		})
	})

	Describe("Status and HealthCheck", func() {
		It("reports the backend's derived state", func() {
			st, err := mgr.Status("weather")
			Expect(err).NotTo(HaveOccurred())
			Expect(st.Status).To(Equal(state.StatusStopped))

			healthy, err := mgr.HealthCheck("weather")
			Expect(err).NotTo(HaveOccurred())
			Expect(healthy).To(BeFalse())

			_, _ = mgr.Start("weather", nil)

			healthy, err = mgr.HealthCheck("weather")
			Expect(err).NotTo(HaveOccurred())
			Expect(healthy).To(BeTrue())
		})

		It("errors for an unknown plugin", func() {
			_, err := mgr.Status("ghost")

			Expect(err).To(MatchError(manager.ErrNotFound))
		})
	})

	Describe("AllStatuses", func() {
		It("covers every plugin in the table", func() {
			addFake("alpha", false, nil)
			_, _ = mgr.Start("weather", nil)

			statuses := mgr.AllStatuses()

			Expect(statuses).To(HaveLen(2))
			Expect(statuses["weather"].Status).To(Equal(state.StatusRunning))
			Expect(statuses["alpha"].Status).To(Equal(state.StatusStopped))
		})
	})

	Describe("GetConfig", func() {
		It("returns the defaults when nothing is persisted", func() {
			cfg, err := mgr.GetConfig("weather")

			Expect(err).NotTo(HaveOccurred())
			Expect(cfg).To(HaveKeyWithValue("port", 8080))
		})
	})

	Describe("SetConfig", func() {
		It("persists without restarting a stopped plugin", func() {
			ok, err := mgr.SetConfig("weather", map[string]any{"units": "metric"})

			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(backend.snapshot().restarts).To(BeZero())
		})

		It("restarts a running plugin so the config takes effect", func() {
			_, _ = mgr.Start("weather", nil)

			ok, err := mgr.SetConfig("weather", map[string]any{"units": "metric"})

			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(backend.snapshot().restarts).To(Equal(1))
		})
	})

	Describe("Logs", func() {
		It("delegates to the backend", func() {
			out, err := mgr.Logs("weather", 10)

			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("fake log output"))
		})
	})

	Describe("Execute", func() {
		It("delegates command dispatch to the backend", func() {
			res, err := mgr.Execute("weather", "refresh", map[string]any{"force": true})

			Expect(err).NotTo(HaveOccurred())
			Expect(res).To(HaveKeyWithValue("command", "refresh"))
		})
	})

	Describe("Reload", func() {
		It("delegates to the backend", func() {
			Expect(mgr.Reload("weather")).To(Succeed())
			Expect(backend.snapshot().reloads).To(Equal(1))
		})
	})

	Describe("Uninstall", func() {
		It("stops the plugin and drops it from the table", func() {
			_, _ = mgr.Start("weather", nil)

			ok, err := mgr.Uninstall("weather")

			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())

			_, err = mgr.Get("weather")
			Expect(err).To(MatchError(manager.ErrNotFound))
		})

		It("releases the backend's tracking state", func() {
			_, _ = mgr.Start("weather", nil)

			ok, err := mgr.Uninstall("weather")

			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(backend.snapshot().forgets).To(Equal(1))
		})

		It("removes the persisted config document", func() {
			_, err := mgr.SetConfig("weather", map[string]any{"units": "metric"})
			Expect(err).NotTo(HaveOccurred())

			_, err = mgr.Uninstall("weather")
			Expect(err).NotTo(HaveOccurred())

			// Re-adding the plugin sees pristine defaults again.
			addFake("weather", false, map[string]any{"port": 8080})

			cfg, err := mgr.GetConfig("weather")
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg).NotTo(HaveKey("units"))
		})

		It("refuses to uninstall a builtin plugin", func() {
			addFake("core", true, nil)

			_, err := mgr.Uninstall("core")

			Expect(err).To(MatchError(manager.ErrProtected))

			_, err = mgr.Get("core")
			Expect(err).NotTo(HaveOccurred())
		})

		It("aborts when the backend cannot stop the plugin", func() {
			backend.stopOK = false

			ok, err := mgr.Uninstall("weather")

			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())

			_, err = mgr.Get("weather")
			Expect(err).NotTo(HaveOccurred())
		})
	})
})

var _ = Describe("Manager discovery", func() {
	var (
		userRoot    string
		builtinRoot string
		dataDir     string
	)

	writePlugin := func(root, dir, content string) {
		path := filepath.Join(root, dir)
		Expect(os.MkdirAll(path, 0o755)).To(Succeed())
		Expect(os.WriteFile(
			filepath.Join(path, "manifest.yaml"), []byte(content), 0o644,
		)).To(Succeed())
	}

	newManager := func() *manager.Manager {
		return manager.New(manager.Options{
			Roots: []manifest.Root{
				{Path: builtinRoot, Builtin: true},
				{Path: userRoot},
			},
			ConfigDir: filepath.Join(dataDir, "config"),
			LogsDir:   filepath.Join(dataDir, "logs"),
		}, logger.NewNoOpLogger(), nil)
	}

	BeforeEach(func() {
		userRoot = GinkgoT().TempDir()
		builtinRoot = GinkgoT().TempDir()
		dataDir = GinkgoT().TempDir()
	})

	It("binds discovered plugins by their declared kind", func() {
		writePlugin(userRoot, "proc", "name: proc\nversion: 1.0.0\nbinary: procd\n")
		writePlugin(userRoot, "mod", "name: mod\nversion: 1.0.0\nentry: plugin.go\n")

		mgr := newManager()
		defer mgr.Shutdown()

		proc, err := mgr.Get("proc")
		Expect(err).NotTo(HaveOccurred())
		Expect(proc.Kind()).To(Equal(manifest.KindProcess))

		mod, err := mgr.Get("mod")
		Expect(err).NotTo(HaveOccurred())
		Expect(mod.Kind()).To(Equal(manifest.KindModule))
	})

	It("rejects Execute on a process-backed plugin", func() {
		writePlugin(userRoot, "proc", "name: proc\nversion: 1.0.0\nbinary: procd\n")

		mgr := newManager()
		defer mgr.Shutdown()

		_, err := mgr.Execute("proc", "anything", nil)
		Expect(err).To(MatchError(manager.ErrNotSupported))
	})

	It("rejects Reload on a process-backed plugin", func() {
		writePlugin(userRoot, "proc", "name: proc\nversion: 1.0.0\nbinary: procd\n")

		mgr := newManager()
		defer mgr.Shutdown()

		Expect(mgr.Reload("proc")).To(MatchError(manager.ErrNotSupported))
	})

	It("marks builtin-root plugins protected", func() {
		writePlugin(builtinRoot, "core", "name: core\nversion: 1.0.0\nbinary: cored\n")

		mgr := newManager()
		defer mgr.Shutdown()

		_, err := mgr.Stop("core")
		Expect(err).To(MatchError(manager.ErrProtected))
	})

	It("runs a module plugin end to end", func() {
		writePlugin(userRoot, "greeter", "name: greeter\nversion: 1.0.0\nentry: plugin.go\n")
		Expect(os.WriteFile(
			filepath.Join(userRoot, "greeter", "plugin.go"),
			[]byte(`package greeter

import (
	"github.com/smykla-labs/pluginhost/pkg/sdk"
)

type plugin struct {
	cfg map[string]any
}

func New(cfg map[string]any, dir string) (sdk.Plugin, error) {
	return &plugin{cfg: cfg}, nil
}

func (p *plugin) Info() sdk.Info { return sdk.Info{Name: "greeter", Version: "1.0.0"} }

func (p *plugin) Run(stop <-chan struct{}) error { <-stop; return nil }

func (p *plugin) Stop() error { return nil }

func (p *plugin) Commands() map[string]sdk.CommandFunc {
	return map[string]sdk.CommandFunc{
		"greet": func(args map[string]any) (any, error) {
			name, _ := args["name"].(string)
			return "hello " + name, nil
		},
	}
}
`),
			0o644,
		)).To(Succeed())

		mgr := newManager()
		defer mgr.Shutdown()

		ok, err := mgr.Start("greeter", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())

		st, err := mgr.Status("greeter")
		Expect(err).NotTo(HaveOccurred())
		Expect(st.Status).To(Equal(state.StatusRunning))

		res, err := mgr.Execute("greeter", "greet", map[string]any{"name": "world"})
		Expect(err).NotTo(HaveOccurred())
		Expect(res).To(Equal("hello world"))

		out, err := mgr.Logs("greeter", 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("in-process"))

		ok, err = mgr.Stop("greeter")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
	})
})
