package auth

import (
	"fmt"
	"os/exec"
	"runtime"
)

// BrowserOpener hands an authorization URL to an external process. The
// default implementation opens the system browser; hosts embed their own
// (e.g. an in-game overlay showing the URL).
type BrowserOpener func(url string) error

// OpenBrowser opens the specified URL in the default web browser.
// It supports Linux, macOS, and Windows.
func OpenBrowser(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	// Start the command but don't wait for it to complete.
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}

	return nil
}
