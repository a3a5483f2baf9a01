package cmd

import (
	"fmt"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"firetick/internal/auth"
	"firetick/internal/bridge"
)

var loginProvider string

// loginTimeout bounds the wait for the browser round trip.
const loginTimeout = 5 * time.Minute

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with an identity provider",
	Long: `Sign in using a browser-based OAuth2 flow.

The authorization URL opens in your browser; after you approve, the
provider redirects back to a local listener and the credential is stored
for later commands.

Examples:
  firetick login                       # Sign in with Google
  firetick login --provider github     # Sign in with GitHub`,
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().StringVar(&loginProvider, "provider", auth.ProviderGoogle, "Identity provider (google, github)")
}

func runLogin(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	c, err := newClient(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	authURL, err := c.StartFlow(loginProvider)
	if err != nil {
		return err
	}

	var s *spinner.Spinner
	if !quietOutput {
		if authURL != "" {
			fmt.Printf("Opening your browser. If it does not open, visit:\n\n  %s\n\n", authURL)
		}
		s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		s.Suffix = " Waiting for sign-in to complete..."
		s.Start()
		defer s.Stop()
	}

	err = pollFor(ctx, c, loginTimeout, func(ev bridge.Event) (bool, error) {
		switch e := ev.(type) {
		case auth.TokenUpdated:
			return true, nil
		case auth.AuthFailed:
			return false, &authFailedError{err: e.Err}
		default:
			return false, nil
		}
	})
	if err != nil {
		return err
	}

	token, ok := c.CurrentToken()
	if !ok {
		return fmt.Errorf("sign-in completed without a credential")
	}
	if err := saveToken(token); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}

	if s != nil {
		s.Stop()
	}
	if !quietOutput {
		if token.Claims != nil && token.Claims.Email != "" {
			fmt.Printf("Signed in to %s as %s\n", token.Provider, token.Claims.Email)
		} else {
			fmt.Printf("Signed in to %s\n", token.Provider)
		}
	}
	return nil
}
