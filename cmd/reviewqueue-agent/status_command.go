package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/reviewqueue-agent/internal/app"
	"github.com/MrSnakeDoc/reviewqueue-agent/internal/domain"
	"github.com/MrSnakeDoc/reviewqueue-agent/internal/engine"
)

type statusOutput struct {
	Status domain.Status `json:"status"`
	Flags  engine.Flags  `json:"flags"`
}

func newStatusCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the last reported status and dependency flags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				st, flags, err := a.Status(cmd.Context())
				if err != nil {
					return err
				}
				out := statusOutput{Status: st, Flags: flags}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), out)
				}
				renderStatus(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func renderStatus(w io.Writer, out statusOutput) {
	if out.Status.State == "" {
		fmt.Fprintln(w, "Status:    (none reported)")
	} else {
		fmt.Fprintf(w, "Status:    %s\n", out.Status)
		fmt.Fprintf(w, "Updated:   %s\n", out.Status.UpdatedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "Installed: %s\n", yesNo(out.Flags.Installed))
	fmt.Fprintf(w, "Database:  %s\n", available(out.Flags.DatabaseAvailable))
	fmt.Fprintf(w, "Broker:    %s\n", available(out.Flags.BrokerAvailable))
	fmt.Fprintf(w, "Website:   %s\n", available(out.Flags.WebsiteAvailable))
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func available(b bool) string {
	if b {
		return "available"
	}
	return "unavailable"
}

// writeJSON encodes v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
