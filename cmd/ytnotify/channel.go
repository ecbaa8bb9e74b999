package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.yaml.in/yaml/v3"

	"ytnotify/internal/app"
	"ytnotify/internal/channels"
	"ytnotify/internal/domain"
	"ytnotify/internal/monitor"
	"ytnotify/internal/preview"
)

// channelFlags are the filter settings shared by channel add and channel edit.
type channelFlags struct {
	name          string
	count         int
	titleInclude  string
	titleExclude  string
	descInclude   string
	descExclude   string
	minLength     int
	maxLength     int
	unknownLength string
	firstRun      string
	preset        string
	pattern       string
	replacement   string
	clearRewrite  bool
	yes           bool
}

func (f *channelFlags) register(fs *pflag.FlagSet, edit bool) {
	fs.StringVar(&f.name, "name", "", "display name (default: the provider's channel name)")
	fs.IntVar(&f.count, "count", domain.DefaultCount, "number of most recent items checked per pass")
	fs.StringVar(&f.titleInclude, "title-include", "", "comma separated keywords; the title must contain one")
	fs.StringVar(&f.titleExclude, "title-exclude", "", "comma separated keywords; the title must contain none")
	fs.StringVar(&f.descInclude, "desc-include", "", "comma separated keywords; the description must contain one")
	fs.StringVar(&f.descExclude, "desc-exclude", "", "comma separated keywords; the description must contain none")
	fs.IntVar(&f.minLength, "min-length", -1, "minimum length in seconds (negative = no bound)")
	fs.IntVar(&f.maxLength, "max-length", -1, "maximum length in seconds (negative = no bound)")
	fs.StringVar(&f.unknownLength, "unknown-length", "", "items without a length when a bound is set: pass or reject (default pass)")
	fs.StringVar(&f.firstRun, "first-run", "", "first pass behaviour: notify or seed (record without sending)")
	fs.StringVar(&f.preset, "preset", "", "URL rewrite preset name")
	fs.StringVar(&f.pattern, "pattern", "", "inline URL rewrite regex (wins over --preset)")
	fs.StringVar(&f.replacement, "replacement", "", "inline URL rewrite replacement (\\1 or ${1} for groups)")
	fs.BoolVarP(&f.yes, "yes", "y", false, "save without asking for confirmation")
	if edit {
		fs.BoolVar(&f.clearRewrite, "clear-rewrite", false, "remove the preset and inline rewrite")
	}
}

// apply copies every flag that was set (or, for a new channel, every flag) onto ch.
func (f *channelFlags) apply(fs *pflag.FlagSet, ch domain.Channel, all bool) domain.Channel {
	set := func(name string) bool { return all || fs.Changed(name) }
	bound := func(v int) *int {
		if v < 0 {
			return nil
		}
		return domain.IntPtr(v)
	}
	if set("name") {
		ch.Name = f.name
	}
	if set("count") {
		ch.Count = f.count
	}
	if set("title-include") {
		ch.TitleInclude = domain.SplitKeywords(f.titleInclude)
	}
	if set("title-exclude") {
		ch.TitleExclude = domain.SplitKeywords(f.titleExclude)
	}
	if set("desc-include") {
		ch.DescriptionInclude = domain.SplitKeywords(f.descInclude)
	}
	if set("desc-exclude") {
		ch.DescriptionExclude = domain.SplitKeywords(f.descExclude)
	}
	if set("min-length") {
		ch.MinLengthSeconds = bound(f.minLength)
	}
	if set("max-length") {
		ch.MaxLengthSeconds = bound(f.maxLength)
	}
	if set("unknown-length") {
		ch.UnknownLength = domain.UnknownLengthPolicy(strings.ToLower(strings.TrimSpace(f.unknownLength)))
	}
	if set("first-run") {
		ch.FirstRun = domain.FirstRunPolicy(strings.ToLower(strings.TrimSpace(f.firstRun)))
	}
	if f.clearRewrite {
		ch.Rewrite = domain.Rewrite{}
	}
	if set("preset") {
		ch.Rewrite.Preset = f.preset
	}
	if set("pattern") {
		ch.Rewrite.Pattern = f.pattern
	}
	if set("replacement") {
		ch.Rewrite.Replacement = f.replacement
	}
	return ch
}

var (
	addFlags  channelFlags
	editFlags channelFlags
	rmYes     bool
)

func init() {
	rootCmd.AddCommand(channelCmd)
	channelCmd.AddCommand(channelAddCmd, channelEditCmd, channelListCmd, channelShowCmd,
		channelRemoveCmd, channelResetCmd, channelPreviewCmd, channelRunCmd)

	addFlags.register(channelAddCmd.Flags(), false)
	editFlags.register(channelEditCmd.Flags(), true)
	channelRemoveCmd.Flags().BoolVarP(&rmYes, "yes", "y", false, "remove without asking for confirmation")
	channelRunCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "evaluate and log without sending or recording anything")
}

var channelCmd = &cobra.Command{
	Use:     "channel",
	Aliases: []string{"channels", "ch"},
	Short:   "Manage monitored channels",
	Long: `Manage monitored channels.

A channel is referenced by its id, a unique id prefix, or its exact URL.

Examples:
  # Add a channel, only long uploads, links rewritten through a preset
  ytnotify channel add https://www.youtube.com/@example --min-length 600 --preset invidious

  # Show which of the 15 latest items would match
  ytnotify channel edit 0190a1 --count 15 --title-exclude "#shorts"`,
}

var channelAddCmd = &cobra.Command{
	Use:   "add URL",
	Short: "Add a channel after previewing its recent items",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			ch := addFlags.apply(cmd.Flags(), domain.Channel{URL: args[0]}, true)
			return draftAndCommit(ctx, cmd, a.Channels(), ch, addFlags.yes)
		})
	},
}

var channelEditCmd = &cobra.Command{
	Use:   "edit REF",
	Short: "Change a channel's filters after previewing the result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			cur, err := a.Channels().Get(ctx, args[0])
			if err != nil {
				return err
			}
			ch := editFlags.apply(cmd.Flags(), cur, false)
			return draftAndCommit(ctx, cmd, a.Channels(), ch, editFlags.yes)
		})
	},
}

// draftAndCommit previews ch, asks for confirmation and saves it.
func draftAndCommit(ctx context.Context, cmd *cobra.Command, svc *channels.Service, ch domain.Channel, yes bool) error {
	out := cmd.OutOrStdout()
	count := ch.Count
	if count <= 0 {
		count = domain.DefaultCount
	}
	fmt.Fprintf(out, "Fetching the %d most recent items of %s ...\n", count, ch.URL)
	d, err := svc.Draft(ctx, ch)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, preview.Render(d.Rows))
	fmt.Fprintf(out, "%d of %d items match.\n", preview.Matched(d.Rows), len(d.Rows))
	if urls := preview.RenderURLs(d.Rows); urls != "" {
		fmt.Fprintf(out, "\nLinks that would be sent:\n%s", urls)
	}

	verb := "Add"
	if d.Existing {
		verb = "Save changes to"
	}
	if !yes {
		ok, err := confirm(cmd.InOrStdin(), out, fmt.Sprintf("%s this channel?", verb))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(out, "Nothing saved. Adjust the filter flags and run the command again to see a new preview.")
			return nil
		}
	}
	saved, err := svc.Commit(ctx, d.Channel)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Saved channel %s (%s).\n", saved.ID, saved.URL)
	return nil
}

// confirm asks a yes/no question on in; anything but y/yes is no.
func confirm(in io.Reader, out io.Writer, question string) (bool, error) {
	fmt.Fprintf(out, "%s [y/N] ", question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

var channelListCmd = &cobra.Command{
	Use:   "list",
	Short: "List channels with their notification state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			chs, err := a.Channels().List(ctx)
			if err != nil {
				return err
			}
			if len(chs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No channels yet; add one with: ytnotify channel add URL")
				return nil
			}
			rows := make([][]string, 0, len(chs))
			for _, ch := range chs {
				st, err := a.Channels().State(ctx, ch.ID)
				if err != nil {
					return err
				}
				last := "never"
				if st.HasRun {
					last = st.LastRunAt.Local().Format("2006-01-02 15:04")
				}
				rows = append(rows, []string{
					shortID(ch.ID), ch.DisplayName(""), strconv.Itoa(ch.Count),
					describeRewrite(ch.Rewrite), strconv.Itoa(len(st.Items)), last,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"ID", "Channel", "Count", "Rewrite", "Notified", "Last run"}, rows))
			return nil
		})
	},
}

var channelShowCmd = &cobra.Command{
	Use:   "show REF",
	Short: "Print a channel's config and state as YAML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			ch, err := a.Channels().Get(ctx, args[0])
			if err != nil {
				return err
			}
			st, err := a.Channels().State(ctx, ch.ID)
			if err != nil {
				return err
			}
			doc := map[string]any{
				"channel": ch,
				"state": map[string]any{
					"has_run":     st.HasRun,
					"last_run_at": st.LastRunAt,
					"notified":    len(st.Items),
				},
			}
			return writeYAML(cmd.OutOrStdout(), doc)
		})
	},
}

var channelRemoveCmd = &cobra.Command{
	Use:     "remove REF",
	Aliases: []string{"rm"},
	Short:   "Remove a channel and its notification history",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			ch, err := a.Channels().Get(ctx, args[0])
			if err != nil {
				return err
			}
			if !rmYes {
				ok, err := confirm(cmd.InOrStdin(), cmd.OutOrStdout(), fmt.Sprintf("Remove %s (%s)?", ch.DisplayName(""), ch.ID))
				if err != nil || !ok {
					return err
				}
			}
			if err := a.Channels().Remove(ctx, ch.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s.\n", ch.ID)
			return nil
		})
	},
}

var channelResetCmd = &cobra.Command{
	Use:   "reset REF",
	Short: "Forget which items were notified; the next pass behaves like a first run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			ch, err := a.Channels().Get(ctx, args[0])
			if err != nil {
				return err
			}
			if err := a.Channels().Reset(ctx, ch.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reset %s.\n", ch.ID)
			return nil
		})
	},
}

var channelPreviewCmd = &cobra.Command{
	Use:   "preview REF",
	Short: "Show which recent items of a stored channel match its filters",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			ch, err := a.Channels().Get(ctx, args[0])
			if err != nil {
				return err
			}
			_, rows, err := a.Channels().PreviewByID(ctx, ch.ID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, preview.Render(rows))
			fmt.Fprintf(out, "%d of %d items match.\n", preview.Matched(rows), len(rows))
			fmt.Fprint(out, preview.RenderURLs(rows))
			return nil
		})
	},
}

var channelRunCmd = &cobra.Command{
	Use:   "run REF",
	Short: "Run one pass for a single channel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var opts []app.Option
		if cmd.Flags().Changed("dry-run") {
			opts = append(opts, app.WithOverrides(app.Overrides{DryRun: &runDryRun, Once: true}))
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			ch, err := a.Channels().Get(ctx, args[0])
			if err != nil {
				return err
			}
			res, err := a.RunChannel(ctx, ch.ID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderResults([]monitor.PassResult{res}))
			for _, h := range a.Notifier().History() {
				title, _, _ := strings.Cut(h.Text, "\n")
				fmt.Fprintf(out, "sent %s  %s\n", h.At.Format(time.TimeOnly), title)
			}
			return res.Err
		}, opts...)
	},
}

func shortID(id string) string {
	if len(id) > 13 {
		return id[:13]
	}
	return id
}

func describeRewrite(r domain.Rewrite) string {
	switch {
	case r.HasInline():
		return "inline"
	case r.HasPreset():
		return "preset:" + r.Preset
	default:
		return "-"
	}
}

var (
	listHeader = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	listCell   = lipgloss.NewStyle().Padding(0, 1)
)

func renderTable(headers []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(resultBorder).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return listHeader
			}
			return listCell
		})
	return t.String()
}

// writeYAML prints v as YAML using its JSON field names.
func writeYAML(w io.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}
