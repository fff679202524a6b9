// Package cli wires the idlereboot commands.
package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/idlereboot/internal/app"
	"github.com/MrSnakeDoc/idlereboot/internal/config"
	"github.com/MrSnakeDoc/idlereboot/internal/logger"
	"github.com/MrSnakeDoc/idlereboot/internal/version"
)

type options struct {
	configFile string
}

func BuildCLI() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "idlereboot",
		Short: "Restart a game server once per maintenance window, only when it is empty",
		Long: `idlereboot checks whether a Source-protocol game server is empty during a
daily maintenance window and restarts it at most once per window.

Each invocation decides, acts, sleeps, and exits; run it under a service
supervisor, or use "watch" to keep it running on a cron schedule.`,
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "",
		"config file path (default $"+config.EnvConfigPath+")")

	rootCmd.AddCommand(buildRunCommand(opts))
	rootCmd.AddCommand(buildQueryCommand(opts))
	rootCmd.AddCommand(buildWindowsCommand(opts))
	rootCmd.AddCommand(buildWatchCommand(opts))

	return rootCmd
}

func buildRunCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run HOST [PORT]",
		Short: "Run one maintenance check, then sleep until the next one is due",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, args, func(a *app.App) error {
				_, err := a.RunOnce(cmd.Context())
				return err
			})
		},
	}
}

func buildQueryCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "query HOST [PORT]",
		Short: "Print the current server status",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, args, func(a *app.App) error {
				info, err := a.Query(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Number of players: %d / %d\n", info.Players, info.MaxPlayers)
				fmt.Fprintf(out, "Bots: %d\n", info.Bots)
				fmt.Fprintf(out, "Name: %s\n", info.Name)
				fmt.Fprintf(out, "Map: %s\n", info.Map)
				fmt.Fprintf(out, "Game: %s (app %d)\n", info.Game, info.AppID)
				fmt.Fprintf(out, "Version: %s\n", info.Version)
				return nil
			})
		},
	}
}

func buildWindowsCommand(opts *options) *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "windows",
		Short: "Print the maintenance windows around now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --at: %w", err)
				}
				now = t
			}

			cfg, err := config.Load(opts.configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			sched, err := cfg.Schedule()
			if err != nil {
				return err
			}
			printWindows(cmd.OutOrStdout(), app.NewWindowReport(sched, now))
			return nil
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "reference instant in RFC 3339 (default now)")

	return cmd
}

func buildWatchCommand(opts *options) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "watch HOST [PORT]",
		Short: "Run maintenance checks on a cron schedule until interrupted",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConfig(cmd.Context(), opts, args, func(cfg *config.Config) {
				if listen != "" {
					cfg.Watch.StatusListen = listen
				}
			}, func(a *app.App) error {
				return a.Watch(cmd.Context())
			})
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "serve status endpoints on this address (overrides watch.status_listen)")

	return cmd
}

func printWindows(out io.Writer, rep app.WindowReport) {
	fmt.Fprintf(out, "Now: %s (%s)\n", rep.Now.Format(time.RFC3339), rep.Location)
	for _, w := range rep.Nearby {
		marker := " "
		if w.Includes(rep.Now) {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %s\n", marker, w)
	}
	if rep.Current != nil {
		fmt.Fprintf(out, "Inside window, closes in %s\n", rep.Current.Stop.Sub(rep.Now).Truncate(time.Second))
	}
	fmt.Fprintf(out, "Next window opens in %s\n", rep.Next.Start.Sub(rep.Now).Truncate(time.Second))
}

func withApp(ctx context.Context, opts *options, args []string, fn func(*app.App) error) error {
	return withConfig(ctx, opts, args, nil, fn)
}

// withConfig loads the configuration, applies the HOST [PORT] arguments and
// mutate, then builds the app and hands it to fn.
func withConfig(ctx context.Context, opts *options, args []string, mutate func(*config.Config), fn func(*app.App) error) error {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := applyTarget(cfg, args); err != nil {
		return err
	}
	if mutate != nil {
		mutate(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)
	defer func() { _ = log.Sync() }()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(a)
}

// applyTarget overrides the server address with HOST [PORT].
func applyTarget(cfg *config.Config, args []string) error {
	if len(args) > 0 {
		cfg.Server.Host = args[0]
	}
	if len(args) > 1 {
		port, err := strconv.Atoi(args[1])
		if err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("invalid port %q", args[1])
		}
		cfg.Server.Port = port
	}
	return nil
}
