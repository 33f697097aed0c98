package main

import (
	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/reviewqueue-agent/internal/app"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and watch the settings file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				return a.Serve()
			})
		},
	}
}
