package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/hako/durafmt"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"

	"github.com/smykla-labs/pluginhost/pkg/state"
)

// uptimeDisplayUnits limits uptime rendering to the two largest units.
const uptimeDisplayUnits = 2

const bytesPerMB = 1024 * 1024

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status [plugin]",
	Short: "Show plugin runtime status",
	Long: `Show the runtime status of one plugin, or of all plugins when no name
is given.

Examples:
  pluginhost status
  pluginhost status weather
  pluginhost status --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	mgr, _, err := newManager()
	if err != nil {
		return err
	}

	statuses := map[string]state.PluginState{}

	if len(args) == 1 {
		st, statusErr := mgr.Status(args[0])
		if statusErr != nil {
			return statusErr
		}

		statuses[args[0]] = st
	} else {
		statuses = mgr.AllStatuses()
	}

	if statusJSON {
		data, jsonErr := json.MarshalIndent(statuses, "", "  ")
		if jsonErr != nil {
			return errors.Wrap(jsonErr, "failed to marshal statuses")
		}

		cmd.Println(string(data))

		return nil
	}

	cmd.Print(renderStatusTable(statuses))

	return nil
}

func renderStatusTable(statuses map[string]state.PluginState) string {
	names := make([]string, 0, len(statuses))
	for name := range statuses {
		names = append(names, name)
	}

	sort.Strings(names)

	var buf bytes.Buffer

	t := tablewriter.NewTable(&buf,
		tablewriter.WithPadding(tw.Padding{Left: " ", Right: " "}),
	)

	t.Header([]string{"Name", "Status", "PID", "Port", "Uptime", "Memory", "CPU", "Last Error"})

	for _, name := range names {
		st := statuses[name]

		_ = t.Append([]string{
			name,
			string(st.Status),
			formatInt(st.PID),
			formatInt(st.Port),
			formatUptime(st.Uptime),
			formatMemory(st.MemoryMB),
			formatCPU(st.CPUPercent),
			st.LastError,
		})
	}

	_ = t.Render()

	return buf.String()
}

func formatInt(v int) string {
	if v == 0 {
		return "-"
	}

	return strconv.Itoa(v)
}

func formatUptime(seconds float64) string {
	if seconds <= 0 {
		return "-"
	}

	d := time.Duration(seconds * float64(time.Second))

	return durafmt.Parse(d.Round(time.Second)).LimitFirstN(uptimeDisplayUnits).String()
}

func formatMemory(mb float64) string {
	if mb <= 0 {
		return "-"
	}

	return humanize.Bytes(uint64(mb * bytesPerMB))
}

func formatCPU(pct float64) string {
	if pct <= 0 {
		return "-"
	}

	return fmt.Sprintf("%.1f%%", pct)
}
