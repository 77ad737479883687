package cli

import (
	"fmt"

	"docvault-server/internal/repository"

	"github.com/spf13/cobra"
)

type migrateOptions struct {
	path string
}

// NewMigrateCommand creates or upgrades a SQLite store and reports its
// schema version.
func NewMigrateCommand(root *RootOptions) *cobra.Command {
	opts := &migrateOptions{}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the SQLite schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.path
			if path == "" {
				cfg, err := loadConfig(root)
				if err != nil {
					return err
				}
				path = cfg.Store.SQLitePath
			}

			store, err := repository.OpenSQLiteStore(path)
			if err != nil {
				return err
			}
			defer store.Close()

			version, err := store.SchemaVersion(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to read schema version: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: schema version %d\n", path, version)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.path, "db", "", "SQLite database path (default SQLITE_PATH)")

	return cmd
}
