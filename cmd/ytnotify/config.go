package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"ytnotify/internal/app"
	"ytnotify/internal/config"
	"ytnotify/internal/domain"
)

var initForce bool

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd, configValidateCmd, configShowCmd)
	configInitCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing file")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Create, check and print the config file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config.yaml",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		path := strings.TrimSpace(cfgPath)
		if path == "" {
			path = "config.yaml"
		}
		if err := config.WriteStarter(path, initForce); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s. Set telegram.chat, export %s, then add a channel.\n", path, config.EnvToken)
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the config file and every stored channel and preset",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			out := cmd.OutOrStdout()
			var errs []error

			ps, err := a.Presets().List(ctx)
			if err != nil {
				return err
			}
			for _, p := range ps {
				if err := domain.ValidatePreset(p); err != nil {
					errs = append(errs, fmt.Errorf("preset %s: %w", p.Name, err))
				}
			}
			chs, err := a.Channels().List(ctx)
			if err != nil {
				return err
			}
			for _, ch := range chs {
				if _, err := a.Channels().Validate(ctx, ch); err != nil {
					errs = append(errs, fmt.Errorf("channel %s: %w", ch.ID, err))
				}
			}

			if a.Config().Monitor.DryRun {
				fmt.Fprintln(out, "note: monitor.dry_run is on; nothing will be sent")
			} else if strings.TrimSpace(a.Config().Telegram.Chat) == "" {
				errs = append(errs, fmt.Errorf("telegram.chat: %w: required unless monitor.dry_run", domain.ErrInvalidConfig))
			}
			if err := errors.Join(errs...); err != nil {
				return err
			}
			fmt.Fprintf(out, "%s is valid (%d channels, %d presets).\n", a.ConfigPath(), len(chs), len(ps))
			return nil
		})
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective config (token redacted)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(_ context.Context, a *app.App) error {
			cfg := *a.Config()
			if cfg.Telegram.Token != "" {
				cfg.Telegram.Token = "***"
			}
			return writeYAML(cmd.OutOrStdout(), cfg)
		})
	},
}
