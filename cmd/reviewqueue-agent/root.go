package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/reviewqueue-agent/internal/app"
	"github.com/MrSnakeDoc/reviewqueue-agent/internal/config"
	"github.com/MrSnakeDoc/reviewqueue-agent/internal/logger"
)

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "reviewqueue-agent",
		Short:         "Installs and configures Review Queue and keeps its services in step with its dependencies",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.AddCommand(newHookCommand())
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

// withApp loads the environment config, wires the agent and runs fn.
func withApp(ctx context.Context, fn func(a *app.App) error) error {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel, cfg.PrettyLog)
	defer func() { _ = log.Sync() }()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
