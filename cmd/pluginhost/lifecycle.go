package main

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

var startConfigJSON string

var startCmd = &cobra.Command{
	Use:   "start <plugin>",
	Short: "Start a plugin",
	Long: `Start a plugin. The optional --set document is merged onto the persisted
configuration before the plugin launches.

Examples:
  pluginhost start weather
  pluginhost start weather --set '{"port": 9090}'`,
	Args: cobra.ExactArgs(1),
	RunE: runStart,
}

var stopCmd = &cobra.Command{
	Use:   "stop <plugin>",
	Short: "Stop a plugin",
	Long: `Stop a plugin gracefully, escalating to a forced kill after the stop
timeout. Builtin plugins cannot be stopped.

Examples:
  pluginhost stop weather`,
	Args: cobra.ExactArgs(1),
	RunE: runStop,
}

var restartCmd = &cobra.Command{
	Use:   "restart <plugin>",
	Short: "Restart a plugin",
	Long: `Stop and start a plugin with its persisted configuration. Builtin
plugins cannot be restarted.

Examples:
  pluginhost restart weather`,
	Args: cobra.ExactArgs(1),
	RunE: runRestart,
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall <plugin>",
	Short: "Uninstall a plugin",
	Long: `Stop a plugin and remove its persisted configuration and log file. The
plugin's own directory is left in place. Builtin plugins cannot be
uninstalled.

Examples:
  pluginhost uninstall weather`,
	Args: cobra.ExactArgs(1),
	RunE: runUninstall,
}

var reloadCmd = &cobra.Command{
	Use:   "reload <plugin>",
	Short: "Reload a module plugin's code",
	Long: `Discard a module plugin's cached code so the next start interprets the
current source on disk. Only module-backed plugins support reload.

Examples:
  pluginhost reload weather`,
	Args: cobra.ExactArgs(1),
	RunE: runReload,
}

func init() {
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(restartCmd)
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(reloadCmd)

	startCmd.Flags().StringVar(
		&startConfigJSON,
		"set",
		"",
		"JSON config document merged onto the persisted configuration",
	)
}

func runStart(cmd *cobra.Command, args []string) error {
	// No deferred shutdown here: stopping the engine would tear down the
	// plugin this command just launched. Spawned processes outlive the CLI.
	mgr, _, err := newManager()
	if err != nil {
		return err
	}

	var override map[string]any

	if startConfigJSON != "" {
		if jsonErr := json.Unmarshal([]byte(startConfigJSON), &override); jsonErr != nil {
			return errors.Wrap(jsonErr, "invalid --set document")
		}
	}

	ok, err := mgr.Start(args[0], override)
	if err != nil {
		return err
	}

	if !ok {
		return errors.Newf("failed to start %s", args[0])
	}

	cmd.Printf("Started %s\n", args[0])

	return nil
}

func runStop(cmd *cobra.Command, args []string) error {
	mgr, _, err := newManager()
	if err != nil {
		return err
	}

	ok, err := mgr.Stop(args[0])
	if err != nil {
		return err
	}

	if !ok {
		return errors.Newf("failed to stop %s", args[0])
	}

	cmd.Printf("Stopped %s\n", args[0])

	return nil
}

func runRestart(cmd *cobra.Command, args []string) error {
	mgr, _, err := newManager()
	if err != nil {
		return err
	}

	ok, err := mgr.Restart(args[0])
	if err != nil {
		return err
	}

	if !ok {
		return errors.Newf("failed to restart %s", args[0])
	}

	cmd.Printf("Restarted %s\n", args[0])

	return nil
}

func runUninstall(cmd *cobra.Command, args []string) error {
	mgr, _, err := newManager()
	if err != nil {
		return err
	}

	ok, err := mgr.Uninstall(args[0])
	if err != nil {
		return err
	}

	if !ok {
		return errors.Newf("failed to uninstall %s", args[0])
	}

	cmd.Printf("Uninstalled %s\n", args[0])

	return nil
}

func runReload(cmd *cobra.Command, args []string) error {
	mgr, _, err := newManager()
	if err != nil {
		return err
	}

	if err := mgr.Reload(args[0]); err != nil {
		return err
	}

	cmd.Printf("Reloaded %s\n", args[0])

	return nil
}
