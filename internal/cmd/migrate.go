package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ivanstrassberg/storefront/internal/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(storage.Storage) error {
			// openStore has already migrated
			fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
