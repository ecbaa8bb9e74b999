package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"ytnotify/internal/app"
	"ytnotify/internal/domain"
)

var (
	presetPattern     string
	presetReplacement string
)

func init() {
	rootCmd.AddCommand(presetCmd)
	presetCmd.AddCommand(presetAddCmd, presetEditCmd, presetDeleteCmd, presetListCmd, presetImportCmd)

	for _, c := range []*cobra.Command{presetAddCmd, presetEditCmd} {
		c.Flags().StringVar(&presetPattern, "pattern", "", "regex matched against the item URL")
		c.Flags().StringVar(&presetReplacement, "replacement", "", "replacement (\\1 or ${1} for groups)")
	}
	_ = presetAddCmd.MarkFlagRequired("pattern")
}

var presetCmd = &cobra.Command{
	Use:     "preset",
	Aliases: []string{"presets"},
	Short:   "Manage named URL rewrite presets",
	Long: `Manage named URL rewrite presets.

A channel references a preset by name (channel add --preset NAME) and follows later edits
of it. "preset import" copies the rule into the channel instead.

Examples:
  ytnotify preset add invidious --pattern 'https://www\.youtube\.com/watch\?v=(.*)' --replacement 'https://yewtu.be/watch?v=\1'
  ytnotify preset import invidious 0190a1`,
}

var presetAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Create a preset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			p, err := a.Channels().AddPreset(ctx, domain.Preset{Name: args[0], Pattern: presetPattern, Replacement: presetReplacement})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added preset %s.\n", p.Name)
			return nil
		})
	},
}

var presetEditCmd = &cobra.Command{
	Use:   "edit NAME",
	Short: "Change a preset; channels referencing it pick up the change on their next pass",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			cur, err := a.Presets().Get(ctx, args[0])
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("pattern") {
				cur.Pattern = presetPattern
			}
			if cmd.Flags().Changed("replacement") {
				cur.Replacement = presetReplacement
			}
			if _, err := a.Channels().EditPreset(ctx, cur); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated preset %s.\n", cur.Name)
			return nil
		})
	},
}

var presetDeleteCmd = &cobra.Command{
	Use:     "delete NAME",
	Aliases: []string{"rm"},
	Short:   "Delete a preset no channel references",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.Channels().DeletePreset(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted preset %s.\n", args[0])
			return nil
		})
	},
}

var presetListCmd = &cobra.Command{
	Use:   "list",
	Short: "List presets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			ps, err := a.Presets().List(ctx)
			if err != nil {
				return err
			}
			if len(ps) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No presets yet; add one with: ytnotify preset add NAME --pattern RE --replacement TPL")
				return nil
			}
			chs, err := a.Channels().List(ctx)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(ps))
			for _, p := range ps {
				used := 0
				for _, ch := range chs {
					if ch.ReferencesPreset(p.Name) {
						used++
					}
				}
				rows = append(rows, []string{p.Name, p.Pattern, p.Replacement, fmt.Sprint(used)})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Name", "Pattern", "Replacement", "Channels"}, rows))
			return nil
		})
	},
}

var presetImportCmd = &cobra.Command{
	Use:   "import NAME CHANNEL",
	Short: "Copy a preset into a channel's inline rewrite",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			ch, err := a.Channels().Get(ctx, args[1])
			if err != nil {
				return err
			}
			out, err := a.Channels().ImportPreset(ctx, args[0], ch.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Copied %s into %s (%s).\n", args[0], out.ID, out.DisplayName(""))
			return nil
		})
	},
}
