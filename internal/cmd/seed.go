package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ivanstrassberg/storefront/internal/storage"
)

var seedFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load catalog data into an empty store",
	Long: `Load the demo catalog, or the products listed in --file, into the
database.

The file has one product per line:
  name;description;price;stock;category`,
	RunE: seed,
}

func init() {
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "", "seed file to load instead of the demo catalog")
	rootCmd.AddCommand(seedCmd)
}

func seed(cmd *cobra.Command, args []string) error {
	var rows []storage.SeedProduct
	if seedFile != "" {
		f, err := os.Open(seedFile)
		if err != nil {
			return fmt.Errorf("failed to open seed file: %w", err)
		}
		defer f.Close()
		rows, err = storage.ParseSeedFile(f)
		if err != nil {
			return err
		}
	}
	return withStore(cmd, func(store storage.Storage) error {
		var (
			n   int
			err error
		)
		if rows != nil {
			n, err = storage.SeedProducts(cmd.Context(), store, rows)
		} else {
			n, err = storage.SeedDefaults(cmd.Context(), store)
		}
		if err != nil {
			return fmt.Errorf("failed to seed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d product(s)\n", n)
		return nil
	})
}
