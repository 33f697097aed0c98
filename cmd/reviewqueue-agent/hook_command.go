package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/reviewqueue-agent/internal/app"
	"github.com/MrSnakeDoc/reviewqueue-agent/internal/engine"
	"github.com/MrSnakeDoc/reviewqueue-agent/internal/relation"
)

// relationFlags collects the peer data passed by db-available and
// amqp-available hooks. --password is shared by both relations.
type relationFlags struct {
	host, port, user, password, database string
	username, privateAddress, vhost       string
}

func newHookCommand() *cobra.Command {
	var f relationFlags

	kinds := make([]string, 0, len(engine.Kinds))
	for _, k := range engine.Kinds {
		kinds = append(kinds, string(k))
	}

	cmd := &cobra.Command{
		Use:       "hook <event>",
		Short:     "Handle one lifecycle event and exit",
		Long:      "Handle one lifecycle event and exit.\n\nEvents: " + strings.Join(kinds, ", "),
		Args:      cobra.ExactArgs(1),
		ValidArgs: kinds,
		RunE: func(cmd *cobra.Command, args []string) error {
			ev, err := buildEvent(args[0], f)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(a *app.App) error {
				if err := a.Dispatch(cmd.Context(), ev); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s handled (%s)\n", ev.Kind, ev.ID)
				return nil
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.host, "host", "", "Database host (db-available)")
	flags.StringVar(&f.port, "port", "", "Database port (db-available)")
	flags.StringVar(&f.user, "user", "", "Database user (db-available)")
	flags.StringVar(&f.database, "database", "", "Database name (db-available)")
	flags.StringVar(&f.password, "password", "", "Database or broker password")
	flags.StringVar(&f.username, "username", "", "Broker user (amqp-available)")
	flags.StringVar(&f.privateAddress, "private-address", "", "Broker address (amqp-available)")
	flags.StringVar(&f.vhost, "vhost", "", "Broker vhost (amqp-available)")

	return cmd
}

func buildEvent(name string, f relationFlags) (engine.Event, error) {
	kind, err := engine.ParseKind(name)
	if err != nil {
		return engine.Event{}, err
	}
	ev := engine.NewEvent(kind)

	switch kind {
	case engine.DatabaseAvailable:
		ev.Database = &relation.DatabaseDescriptor{
			User:     f.user,
			Password: f.password,
			Host:     f.host,
			Port:     f.port,
			Database: f.database,
		}
		if err := ev.Database.Validate(); err != nil {
			return engine.Event{}, fmt.Errorf("%w (need --host --port --user --database)", err)
		}
	case engine.BrokerAvailable:
		ev.Broker = &relation.BrokerDescriptor{
			Username:       f.username,
			Password:       f.password,
			PrivateAddress: f.privateAddress,
			Vhost:          f.vhost,
		}
		if err := ev.Broker.Validate(); err != nil {
			return engine.Event{}, fmt.Errorf("%w (need --username --private-address --vhost)", err)
		}
	}
	return ev, nil
}
