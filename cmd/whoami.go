package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the stored identity",
	RunE:  runWhoami,
}

func runWhoami(cmd *cobra.Command, args []string) error {
	token, err := loadToken()
	if err != nil {
		return err
	}
	if token == nil {
		return &authRequiredError{msg: "not signed in; run 'firetick login'"}
	}

	fmt.Printf("Provider: %s\n", token.Provider)
	if token.Claims != nil {
		if token.Claims.Email != "" {
			fmt.Printf("Email:    %s\n", token.Claims.Email)
		}
		if token.Claims.Name != "" {
			fmt.Printf("Name:     %s\n", token.Claims.Name)
		}
		if token.Claims.Subject != "" {
			fmt.Printf("Subject:  %s\n", token.Claims.Subject)
		}
	}

	switch {
	case token.Expiry.IsZero():
		fmt.Println("Expiry:   unknown")
	case token.IsExpired():
		fmt.Printf("Expiry:   expired at %s", token.Expiry.Format(time.RFC3339))
		if token.HasRefreshToken() {
			fmt.Print(" (will refresh on next use)")
		}
		fmt.Println()
	default:
		fmt.Printf("Expiry:   %s\n", token.Expiry.Format(time.RFC3339))
	}
	return nil
}
