package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"ytnotify/internal/app"
	"ytnotify/internal/monitor"
)

var (
	runDryRun        bool
	runIntervalHours float64
	runSuppressSkips bool
	runOnce          bool
)

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(dryRunCmd)

	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "evaluate and log without sending or recording anything")
	runCmd.Flags().Float64Var(&runIntervalHours, "interval-hours", 0, "run every N hours (0 = a single pass); overrides monitor.schedule and monitor.interval")
	runCmd.Flags().BoolVar(&runSuppressSkips, "suppress-skip-msgs", false, "log skipped and already-notified items at debug level")
	runCmd.Flags().BoolVar(&runOnce, "once", false, "run a single pass even when a schedule is configured")

	dryRunCmd.Flags().BoolVar(&runSuppressSkips, "suppress-skip-msgs", false, "log skipped and already-notified items at debug level")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Check every channel, on the configured schedule or once",
	Long: `Check every channel and notify new matching items.

With monitor.schedule, monitor.interval or --interval-hours set, passes repeat until
SIGINT/SIGTERM; a pass in progress finishes before exit. Otherwise a single pass runs.

Examples:
  # Every 6 hours
  ytnotify run --interval-hours 6

  # One pass, nothing sent
  ytnotify run --once --dry-run`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var ov app.Overrides
		if cmd.Flags().Changed("dry-run") {
			ov.DryRun = &runDryRun
		}
		if cmd.Flags().Changed("suppress-skip-msgs") {
			ov.SuppressSkipMsgs = &runSuppressSkips
		}
		if cmd.Flags().Changed("interval-hours") {
			if runIntervalHours < 0 {
				return fmt.Errorf("--interval-hours must be >= 0")
			}
			ov.IntervalHours = &runIntervalHours
		}
		ov.Once = runOnce

		a, err := openApp(app.WithOverrides(ov))
		if err != nil {
			return err
		}
		defer a.Close()
		return a.Run(cmd.Context())
	},
}

var dryRunCmd = &cobra.Command{
	Use:   "dry-run",
	Short: "Run one pass without sending or recording anything",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		dry := true
		ov := app.Overrides{DryRun: &dry, Once: true}
		if cmd.Flags().Changed("suppress-skip-msgs") {
			ov.SuppressSkipMsgs = &runSuppressSkips
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			results, err := a.RunOnce(ctx)
			if len(results) > 0 {
				fmt.Fprintln(cmd.OutOrStdout(), renderResults(results))
				printErrors(cmd.ErrOrStderr(), results)
			}
			return err
		}, app.WithOverrides(ov))
	},
}

var (
	resultHeader = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	resultCell   = lipgloss.NewStyle().Padding(0, 1)
	resultFailed = resultCell.Foreground(lipgloss.Color("196"))
	resultBorder = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// renderResults draws one row per channel pass.
func renderResults(results []monitor.PassResult) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(resultBorder).
		Headers("Channel", "State", "Fetched", "Matched", "Sent", "Known", "Failed", "Took").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return resultHeader
			}
			if col == 1 && row >= 0 && row < len(results) && results[row].Err != nil {
				return resultFailed
			}
			return resultCell
		})
	for _, r := range results {
		sent := r.Dispatched
		if r.DryRun {
			sent = 0
		}
		t.Row(
			r.ChannelName,
			string(r.State),
			strconv.Itoa(r.Fetched),
			strconv.Itoa(r.Qualified),
			strconv.Itoa(sent),
			strconv.Itoa(r.AlreadyNotified),
			strconv.Itoa(r.Failed),
			r.Took.Round(time.Millisecond).String(),
		)
	}
	return t.String()
}

func printErrors(w io.Writer, results []monitor.PassResult) {
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(w, "%s: %v\n", r.ChannelName, r.Err)
		}
	}
}
