package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zulandar/relayhub/internal/db"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBMigrateCmd())
	return cmd
}

func newDBMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the relayhub schema",
		Long:  "Migrates SQL tables (sqlite, mysql) or ensures MongoDB indexes for the configured store.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBMigrate(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "relayhub.yaml", "path to relayhub config file")
	return cmd
}

func runDBMigrate(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	st, err := openStore(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if cfg.Store.Driver == "mongo" {
		fmt.Fprintf(out, "MongoDB indexes ready in database %s\n", cfg.Store.Database)
		return nil
	}
	fmt.Fprintf(out, "Migrated %d tables (%s)\n", len(db.AllModels()), cfg.Store.Driver)
	return nil
}
