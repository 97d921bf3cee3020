package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/phrazzld/scry-cat/internal/platform/sqlstore"
)

func newMigrateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|reset|status|version]",
		Short:     "Manage the database schema",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "reset", "status", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			command := "up"
			if len(args) == 1 {
				command = args[0]
			}
			dialect := sqlstore.Dialect(c.cfg.Database.Dialect)
			db, err := sqlstore.Open(cmd.Context(), dialect, c.cfg.Database.URL)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := sqlstore.Migrate(cmd.Context(), db, dialect, command, c.logger); err != nil {
				return fmt.Errorf("migrate %s: %w", command, err)
			}
			return nil
		},
	}
}
