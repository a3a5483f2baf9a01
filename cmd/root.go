package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"firetick/internal/auth"
	"firetick/internal/docstore"
	"firetick/pkg/logging"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeAuthRequired indicates authentication is required but not available.
	ExitCodeAuthRequired = 2
	// ExitCodeAuthFailed indicates the sign-in flow failed.
	ExitCodeAuthFailed = 3
)

var (
	configPath  string
	useMemory   bool
	quietOutput bool
	debugOutput bool
)

// rootCmd represents the base command for the firetick application.
var rootCmd = &cobra.Command{
	Use:   "firetick",
	Short: "Sign in to identity providers and work with your document database",
	Long: `firetick authenticates against OAuth2 identity providers (Google,
GitHub) with a browser-based flow and performs document reads, writes and
watches against a Firestore-compatible database.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors
	// that are handled by the application.
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := logging.LevelWarn
		if debugOutput {
			level = logging.LevelDebug
		}
		logging.Init(level, os.Stderr)
	},
}

// SetVersion sets the version for the root command, injected at build time
// from the main package.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application. Commands run
// under a signal-aware context so a long-running watch stops cleanly on
// interrupt.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "firetick version %s\n" .Version}}`)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(getExitCode(err))
	}
}

// authRequiredError signals that a command needs a stored credential.
type authRequiredError struct {
	msg string
}

func (e *authRequiredError) Error() string { return e.msg }

// authFailedError signals that the sign-in flow itself failed.
type authFailedError struct {
	err error
}

func (e *authFailedError) Error() string { return "authentication failed: " + e.err.Error() }
func (e *authFailedError) Unwrap() error { return e.err }

// getExitCode maps error types onto semantic exit codes for scripting.
func getExitCode(err error) int {
	var authRequired *authRequiredError
	if errors.As(err, &authRequired) || errors.Is(err, docstore.ErrUnauthenticated) {
		return ExitCodeAuthRequired
	}

	var authFailed *authFailedError
	if errors.As(err, &authFailed) {
		return ExitCodeAuthFailed
	}
	var exchange *auth.ExchangeError
	if errors.As(err, &exchange) {
		return ExitCodeAuthFailed
	}

	return ExitCodeError
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration directory (default ~/.config/firetick)")
	rootCmd.PersistentFlags().BoolVar(&useMemory, "memory", false, "Use an in-memory document store instead of the configured backend")
	rootCmd.PersistentFlags().BoolVarP(&quietOutput, "quiet", "q", false, "Suppress progress output")
	rootCmd.PersistentFlags().BoolVar(&debugOutput, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(docCmd)
}
