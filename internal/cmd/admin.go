package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ivanstrassberg/storefront/internal/storage"
	"github.com/ivanstrassberg/storefront/internal/users"
)

var (
	adminName     string
	adminEmail    string
	adminPassword string
	confirmClear  bool
)

var createAdminCmd = &cobra.Command{
	Use:   "create-admin",
	Short: "Create an administrator account",
	Long: `Create an administrator account. The password may also be given in
STOREFRONT_ADMIN_PASSWORD to keep it out of the shell history.`,
	RunE: createAdmin,
}

var hashPasswordsCmd = &cobra.Command{
	Use:   "hash-passwords",
	Short: "Re-hash passwords that are still stored in plain text",
	RunE:  hashPasswords,
}

var clearOrdersCmd = &cobra.Command{
	Use:   "clear-orders",
	Short: "Delete every order and its items",
	RunE:  clearOrders,
}

func init() {
	createAdminCmd.Flags().StringVar(&adminName, "name", "Administrator", "display name")
	createAdminCmd.Flags().StringVar(&adminEmail, "email", "", "login email")
	createAdminCmd.Flags().StringVar(&adminPassword, "password", "", "login password")
	createAdminCmd.MarkFlagRequired("email")
	clearOrdersCmd.Flags().BoolVar(&confirmClear, "yes", false, "confirm the deletion")

	rootCmd.AddCommand(createAdminCmd, hashPasswordsCmd, clearOrdersCmd)
}

func createAdmin(cmd *cobra.Command, args []string) error {
	password := adminPassword
	if password == "" {
		password = os.Getenv("STOREFRONT_ADMIN_PASSWORD")
	}
	if password == "" {
		return fmt.Errorf("a password is required (--password or STOREFRONT_ADMIN_PASSWORD)")
	}
	return withUsers(cmd, func(svc *users.Service) error {
		u, err := svc.CreateAdmin(cmd.Context(), adminName, adminEmail, password)
		if err != nil {
			return fmt.Errorf("failed to create admin: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created admin %s (%s)\n", u.Email, u.ID)
		return nil
	})
}

func hashPasswords(cmd *cobra.Command, args []string) error {
	return withUsers(cmd, func(svc *users.Service) error {
		n, err := svc.RehashLegacyPasswords(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to re-hash passwords: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Re-hashed %d password(s)\n", n)
		return nil
	})
}

func clearOrders(cmd *cobra.Command, args []string) error {
	if !confirmClear {
		return fmt.Errorf("refusing to delete orders without --yes")
	}
	return withStore(cmd, func(store storage.Storage) error {
		n, err := store.DeleteAllOrders(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to clear orders: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d order(s)\n", n)
		return nil
	})
}

// withUsers runs fn against a user service that does not track sessions.
func withUsers(cmd *cobra.Command, fn func(*users.Service) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return withStore(cmd, func(store storage.Storage) error {
		return fn(users.NewService(store, nil, cfg.Auth.BcryptCost))
	})
}

func withStore(cmd *cobra.Command, fn func(storage.Storage) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cmd.Context(), cfg.DB)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}
