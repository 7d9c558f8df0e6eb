package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	manager "github.com/bprzybys-nc/manager-sub001"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the store schema and indexes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			st, closeStores, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStores()
			if err := st.Migrate(ctx); err != nil {
				return fmt.Errorf("%w: %w", manager.ErrMigrationFailed, err)
			}
			a.logger.Info("migrations applied", slog.String("store", a.cfg.Store.Driver))
			return nil
		},
	}
}
