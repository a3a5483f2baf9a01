package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"firetick/internal/bridge"
	"firetick/internal/client"
	"firetick/internal/config"
	"firetick/internal/docstore"
	"firetick/pkg/oauth"
)

const tokenFileName = "token.json"

// tickInterval is the cadence at which CLI commands poll the client,
// standing in for a host loop's fixed tick.
const tickInterval = 50 * time.Millisecond

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.GetDefaultConfigPathOrPanic()
}

func loadCLIConfig() (config.Config, error) {
	return config.LoadConfig(resolveConfigPath())
}

// loadToken reads the token persisted by a previous login. A missing file
// returns nil without error.
func loadToken() (*oauth.Token, error) {
	data, err := os.ReadFile(filepath.Join(resolveConfigPath(), tokenFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var token oauth.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("stored token is unreadable: %w", err)
	}
	return &token, nil
}

// saveToken persists the token for later runs.
func saveToken(token *oauth.Token) error {
	dir := resolveConfigPath()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, tokenFileName), data, 0o600)
}

// deleteToken removes the persisted token. Absence is not an error.
func deleteToken() error {
	err := os.Remove(filepath.Join(resolveConfigPath(), tokenFileName))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// newClient builds the client from configuration and the persisted token.
func newClient(ctx context.Context) (*client.Client, error) {
	cfg, err := loadCLIConfig()
	if err != nil {
		return nil, err
	}
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("no providers configured; add client credentials to %s",
			filepath.Join(resolveConfigPath(), "config.yaml"))
	}

	token, err := loadToken()
	if err != nil {
		return nil, err
	}

	var transport docstore.Transport
	if useMemory {
		transport = docstore.NewMemoryTransport()
	} else {
		transport = client.TransportFromConfig(cfg, nil)
	}

	return client.New(ctx, client.Options{
		Providers:     client.ProvidersFromConfig(cfg),
		RedirectPort:  cfg.RedirectPort,
		Transport:     transport,
		RestoredToken: token,
	})
}

// pollFor ticks the client until pred accepts an event, the context is
// cancelled, or the timeout passes. Zero timeout means no limit.
func pollFor(ctx context.Context, c *client.Client, timeout time.Duration, pred func(bridge.Event) (done bool, err error)) error {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		for _, ev := range c.PollEvents() {
			done, err := pred(ev)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("timed out waiting for a response")
		case <-ticker.C:
		}
	}
}
