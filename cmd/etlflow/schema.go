package main

import (
	"context"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/warriorguo/etlflow/sqlqueries"
	"github.com/warriorguo/etlflow/warehouse"
)

func initSchema(ctx context.Context, wh *warehouse.Provider, connID string) error {
	db, err := wh.DB(ctx, connID)
	if err != nil {
		return errors.Trace(err)
	}
	for _, stmt := range sqlqueries.CreateTables {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Annotatef(err, "create tables on %s", connID)
		}
	}
	log.Infof("%d tables created on %s", len(sqlqueries.CreateTables), connID)
	return nil
}

func newInitSchemaCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init-schema",
		Short: "Create the staging and star schema tables when missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			wh, err := cfg.WarehouseProvider()
			if err != nil {
				return err
			}
			defer wh.Close()
			return initSchema(cmd.Context(), wh, cfg.Pipeline.ConnID)
		},
	}
}
