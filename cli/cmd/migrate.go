package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oceanlab/specimen-stack/cli/pkg/output"
	"github.com/oceanlab/specimen-stack/common/recordstore"
)

var errSQLiteMigrations = errors.New("sqlite record stores create their schema on open; only postgres has versioned migrations")

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Record store schema migrations",
	Long:  "Apply, revert or inspect the PostgreSQL record store schema configured in the service config",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(func(m *recordstore.Migrator) error {
			if err := m.Up(); err != nil {
				return err
			}
			version, _, err := m.Version()
			if err != nil {
				return err
			}
			output.Success("Schema at version %d", version)
			return nil
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Revert all migrations (drops the specimen records)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return fmt.Errorf("refusing to revert migrations without --yes")
		}
		return withMigrator(func(m *recordstore.Migrator) error {
			if err := m.Down(); err != nil {
				return err
			}
			output.Success("All migrations reverted")
			return nil
		})
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the applied schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(func(m *recordstore.Migrator) error {
			version, dirty, err := m.Version()
			if err != nil {
				return err
			}
			if jsonOutput() {
				return output.JSON(map[string]any{"version": version, "dirty": dirty})
			}
			output.Info("Schema version: %d", version)
			if dirty {
				output.Warn("Schema is dirty: a migration failed part way")
			}
			return nil
		})
	},
}

func withMigrator(fn func(m *recordstore.Migrator) error) error {
	svc, err := serviceConfig()
	if err != nil {
		return err
	}
	if svc.Database.Type != "postgres" {
		return errSQLiteMigrations
	}

	m, err := recordstore.NewMigrator(svc.Database.Postgres.DSN())
	if err != nil {
		return err
	}
	defer m.Close()
	return fn(m)
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateVersionCmd)

	migrateDownCmd.Flags().Bool("yes", false, "confirm reverting the schema")
}
