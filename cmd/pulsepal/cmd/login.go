package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/pulsepal/pulsepal/internal/config"
	"github.com/pulsepal/pulsepal/internal/tokenstore"
)

var loginToken string

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store the API bearer token",
	Long: `Store the API bearer token used by the chat namespace and the
history endpoint. The token is written to the state directory and picked up
by a running client automatically.`,
	Run: func(cmd *cobra.Command, args []string) {
		store, err := openTokenStore()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := store.SetAccessToken(loginToken); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to store token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Token stored.")
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored bearer token",
	Run: func(cmd *cobra.Command, args []string) {
		store, err := openTokenStore()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := store.Delete(tokenstore.KeyAccessToken); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to remove token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Token removed.")
	},
}

func openTokenStore() (*tokenstore.Store, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return tokenstore.New(afero.NewOsFs(), cfg.StateDir), nil
}

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)

	loginCmd.Flags().StringVarP(&loginToken, "token", "t", "", "Bearer token to store")
	loginCmd.MarkFlagRequired("token")
}
