package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored credential",
	Long: `Remove the locally stored credential. The next document command
will require signing in again.`,
	RunE: runLogout,
}

func runLogout(cmd *cobra.Command, args []string) error {
	if err := deleteToken(); err != nil {
		return fmt.Errorf("failed to remove stored credential: %w", err)
	}
	if !quietOutput {
		fmt.Println("Signed out.")
	}
	return nil
}
