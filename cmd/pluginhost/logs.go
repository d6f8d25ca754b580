package main

import (
	"github.com/spf13/cobra"
)

const defaultLogLines = 50

var logsLines int

var logsCmd = &cobra.Command{
	Use:   "logs <plugin>",
	Short: "Show a plugin's log output",
	Long: `Show the trailing lines of a process plugin's captured stdout and
stderr. Module plugins run in-process and have no separate log file.

Examples:
  pluginhost logs weather
  pluginhost logs weather --lines 200`,
	Args: cobra.ExactArgs(1),
	RunE: runLogs,
}

func init() {
	rootCmd.AddCommand(logsCmd)
	logsCmd.Flags().IntVarP(&logsLines, "lines", "n", defaultLogLines, "Number of trailing lines")
}

func runLogs(cmd *cobra.Command, args []string) error {
	mgr, _, err := newManager()
	if err != nil {
		return err
	}

	out, err := mgr.Logs(args[0], logsLines)
	if err != nil {
		return err
	}

	cmd.Print(out)

	return nil
}
