package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/smykla-labs/pluginhost/internal/manager"
	"github.com/smykla-labs/pluginhost/internal/manifest"
	"github.com/smykla-labs/pluginhost/internal/metrics"
	"github.com/smykla-labs/pluginhost/pkg/logger"
)

const metricsReadHeaderTimeout = 5 * time.Second

var (
	serveMetricsAddr string
	serveAll         bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the plugin engine",
	Long: `Run the plugin engine in the foreground. Builtin plugins and plugins
whose configuration sets "autostart": true are started immediately; all
plugins are stopped gracefully on SIGINT or SIGTERM.

Examples:
  pluginhost serve
  pluginhost serve --all
  pluginhost serve --metrics-addr :9400`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(
		&serveMetricsAddr,
		"metrics-addr",
		"",
		"Expose Prometheus metrics on this address (e.g. :9400); empty disables",
	)
	serveCmd.Flags().BoolVar(
		&serveAll,
		"all",
		false,
		"Start every discovered plugin, not only builtin and autostart ones",
	)
}

func runServe(_ *cobra.Command, _ []string) error {
	opts, err := loadOptions()
	if err != nil {
		return errors.Wrap(err, "failed to load host options")
	}

	log, err := logger.NewFileLogger(opts.LogFile, opts.Debug)
	if err != nil {
		return errors.Wrap(err, "failed to create logger")
	}

	reg := prometheus.NewRegistry()

	mgr := manager.New(manager.Options{
		Roots: []manifest.Root{
			{Path: opts.BuiltinDir, Builtin: true},
			{Path: opts.PluginsDir},
		},
		ConfigDir:   opts.ConfigStoreDir(),
		LogsDir:     opts.ProcessLogsDir(),
		StopTimeout: opts.StopTimeout,
	}, log, metrics.New(reg))

	if serveMetricsAddr != "" {
		go serveMetrics(serveMetricsAddr, reg, log)
	}

	startEligible(mgr, log)

	log.Info("plugin engine running",
		"plugins", len(mgr.List()),
		"metricsAddr", serveMetricsAddr,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	log.Info("shutting down", "signal", sig.String())
	mgr.Shutdown()

	return nil
}

// startEligible starts builtin plugins, autostart plugins, and, with --all,
// everything else. Failures are logged and do not abort the engine.
func startEligible(mgr *manager.Manager, log logger.Logger) {
	for _, m := range mgr.List() {
		if !serveAll && !m.Builtin && !autostart(mgr, m.Name) {
			continue
		}

		ok, err := mgr.Start(m.Name, nil)
		if err != nil || !ok {
			log.Error("failed to start plugin", "plugin", m.Name, "error", err)

			continue
		}

		log.Info("started plugin", "plugin", m.Name, "kind", string(m.Kind()))
	}
}

func autostart(mgr *manager.Manager, name string) bool {
	cfg, err := mgr.GetConfig(name)
	if err != nil {
		return false
	}

	v, ok := cfg["autostart"].(bool)

	return ok && v
}

func serveMetrics(addr string, reg *prometheus.Registry, log logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: metricsReadHeaderTimeout,
	}

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("metrics listener failed", "addr", addr, "error", err)
	}
}
