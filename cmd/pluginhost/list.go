package main

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"

	"github.com/smykla-labs/pluginhost/internal/manifest"
)

var listJSON bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed plugins",
	Long: `List all discovered plugins with their kind, version, and category.

Examples:
  pluginhost list
  pluginhost list --json`,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output as JSON")
}

func runList(cmd *cobra.Command, _ []string) error {
	mgr, _, err := newManager()
	if err != nil {
		return err
	}

	plugins := mgr.List()

	if listJSON {
		data, jsonErr := json.MarshalIndent(plugins, "", "  ")
		if jsonErr != nil {
			return errors.Wrap(jsonErr, "failed to marshal plugins")
		}

		cmd.Println(string(data))

		return nil
	}

	if len(plugins) == 0 {
		cmd.Println("No plugins installed.")

		return nil
	}

	cmd.Print(renderPluginTable(plugins))

	return nil
}

func renderPluginTable(plugins []*manifest.Manifest) string {
	var buf bytes.Buffer

	t := tablewriter.NewTable(&buf,
		tablewriter.WithPadding(tw.Padding{Left: " ", Right: " "}),
	)

	t.Header([]string{"Name", "Kind", "Version", "Category", "Builtin", "Description"})

	for _, m := range plugins {
		builtin := ""
		if m.Builtin {
			builtin = "yes"
		}

		_ = t.Append([]string{
			m.Name,
			string(m.Kind()),
			m.Version,
			m.Category,
			builtin,
			m.Description,
		})
	}

	_ = t.Render()

	return fmt.Sprintf("%s\n%d plugin(s)\n", buf.String(), len(plugins))
}
