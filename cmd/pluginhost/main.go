// Package main provides the CLI entry point for pluginhost.
package main

import (
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	internalconfig "github.com/smykla-labs/pluginhost/internal/config"
	"github.com/smykla-labs/pluginhost/internal/manager"
	"github.com/smykla-labs/pluginhost/internal/manifest"
	"github.com/smykla-labs/pluginhost/pkg/logger"
)

// Global flags.
var (
	pluginsDirFlag string
	builtinDirFlag string
	dataDirFlag    string
	debugFlag      bool
)

var rootCmd = &cobra.Command{
	Use:   "pluginhost",
	Short: "Host-local plugin lifecycle engine",
	Long: `pluginhost discovers, supervises, and controls plugins installed on the
local host. Plugins are either standalone executables run as child processes
or Go source modules interpreted in-process.`,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		checkVersionFlag()
	},
	SilenceUsage:      true,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&pluginsDirFlag,
		"plugins-dir",
		"",
		"Root directory for user plugins (default: $XDG_DATA_HOME/pluginhost/plugins)",
	)
	rootCmd.PersistentFlags().StringVar(
		&builtinDirFlag,
		"builtin-dir",
		"",
		"Root directory for builtin plugins (default: $XDG_DATA_HOME/pluginhost/builtin)",
	)
	rootCmd.PersistentFlags().StringVar(
		&dataDirFlag,
		"data-dir",
		"",
		"Directory for plugin config documents and logs (default: $XDG_STATE_HOME/pluginhost)",
	)
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadOptions resolves host options with CLI flags layered on top of the
// config file and environment.
func loadOptions() (*internalconfig.Options, error) {
	flags := map[string]any{}

	if pluginsDirFlag != "" {
		flags["plugins_dir"] = pluginsDirFlag
	}

	if builtinDirFlag != "" {
		flags["builtin_dir"] = builtinDirFlag
	}

	if dataDirFlag != "" {
		flags["data_dir"] = dataDirFlag
	}

	if debugFlag {
		flags["debug"] = true
	}

	return internalconfig.Load(flags)
}

// newManager builds the engine from resolved host options. The returned
// manager has already completed discovery.
func newManager() (*manager.Manager, logger.Logger, error) {
	opts, err := loadOptions()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to load host options")
	}

	log, err := logger.NewFileLogger(opts.LogFile, opts.Debug)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to create logger")
	}

	mgr := manager.New(manager.Options{
		Roots: []manifest.Root{
			{Path: opts.BuiltinDir, Builtin: true},
			{Path: opts.PluginsDir},
		},
		ConfigDir:   opts.ConfigStoreDir(),
		LogsDir:     opts.ProcessLogsDir(),
		StopTimeout: opts.StopTimeout,
	}, log, nil)

	return mgr, log, nil
}
