package main

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage plugin configuration",
	Long: `Manage per-plugin configuration documents.

Subcommands:
  get      Print the effective configuration
  set      Replace the persisted configuration`,
}

var configGetCmd = &cobra.Command{
	Use:   "get <plugin>",
	Short: "Print the effective plugin configuration",
	Long: `Print the plugin's effective configuration: the persisted document
merged over the manifest defaults.

Examples:
  pluginhost config get weather`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigGet,
}

var configSetCmd = &cobra.Command{
	Use:   "set <plugin> <json>",
	Short: "Replace the persisted plugin configuration",
	Long: `Replace the persisted configuration document. A running plugin is
restarted so the new configuration takes effect.

Examples:
  pluginhost config set weather '{"port": 9090, "units": "metric"}'`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	mgr, _, err := newManager()
	if err != nil {
		return err
	}

	cfg, err := mgr.GetConfig(args[0])
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	cmd.Println(string(data))

	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	mgr, _, err := newManager()
	if err != nil {
		return err
	}

	var doc map[string]any
	if jsonErr := json.Unmarshal([]byte(args[1]), &doc); jsonErr != nil {
		return errors.Wrap(jsonErr, "invalid config document")
	}

	ok, err := mgr.SetConfig(args[0], doc)
	if err != nil {
		return err
	}

	if !ok {
		return errors.Newf("failed to apply config for %s", args[0])
	}

	cmd.Printf("Updated config for %s\n", args[0])

	return nil
}
