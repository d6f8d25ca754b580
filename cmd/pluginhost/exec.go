package main

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

var execArgsJSON string

var execCmd = &cobra.Command{
	Use:   "exec <plugin> <command>",
	Short: "Execute a plugin command",
	Long: `Execute a custom command exposed by a running module plugin.

Examples:
  pluginhost exec weather refresh
  pluginhost exec weather forecast --args '{"city": "Warsaw"}'`,
	Args: cobra.ExactArgs(2),
	RunE: runExec,
}

func init() {
	rootCmd.AddCommand(execCmd)
	execCmd.Flags().StringVar(
		&execArgsJSON,
		"args",
		"",
		"JSON object passed to the command as its arguments",
	)
}

func runExec(cmd *cobra.Command, args []string) error {
	mgr, _, err := newManager()
	if err != nil {
		return err
	}

	var cmdArgs map[string]any

	if execArgsJSON != "" {
		if jsonErr := json.Unmarshal([]byte(execArgsJSON), &cmdArgs); jsonErr != nil {
			return errors.Wrap(jsonErr, "invalid --args document")
		}
	}

	result, err := mgr.Execute(args[0], args[1], cmdArgs)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal result")
	}

	cmd.Println(string(data))

	return nil
}
