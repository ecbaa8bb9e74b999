// Command ytnotify watches yt-dlp channels and sends a Telegram message for every new item
// that matches the channel's filters.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ytnotify/internal/app"
	"ytnotify/internal/config"
	"ytnotify/internal/domain"
)

var (
	// cfgPath is the --config flag; empty means config.Find.
	cfgPath string
	version = "dev"
)

// Exit codes.
const (
	exitError        = 1
	exitInvalid      = 2
	exitStateCorrupt = 3
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrStateCorrupt):
		return exitStateCorrupt
	case errors.Is(err, domain.ErrInvalidConfig):
		return exitInvalid
	default:
		return exitError
	}
}

var rootCmd = &cobra.Command{
	Use:   "ytnotify",
	Short: "Notify a Telegram chat about new channel uploads that match your filters",
	Long: `ytnotify checks channels with yt-dlp, filters recent items by title, description
and length, and sends one Telegram message per new match.

Channels and URL rewrite presets are stored in the state database and managed with
the channel and preset commands. Process settings live in config.yaml.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default: ./config.yaml, then $"+config.EnvPath+")")
}

// openApp loads the config and builds the services. Callers must Close the app.
func openApp(opts ...app.Option) (*app.App, error) {
	path, err := config.Find(cfgPath)
	if err != nil {
		return nil, err
	}
	return app.New(path, opts...)
}

// withApp runs fn against a freshly opened app and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error, opts ...app.Option) error {
	a, err := openApp(opts...)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cmd.Context(), a)
}
