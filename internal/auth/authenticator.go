package auth

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"firetick/internal/bridge"
	pkgoauth "firetick/pkg/oauth"
)

// DefaultHTTPTimeout is the default timeout for token endpoint requests.
const DefaultHTTPTimeout = 30 * time.Second

// Authenticator owns one Machine per registered provider plus the single
// shared redirect listener. Provider machines are independent; the
// listener routes each redirect to the machine whose pending flow matches
// the state nonce.
type Authenticator struct {
	registry   *Registry
	br         *bridge.Bridge
	listener   *RedirectListener
	browser    BrowserOpener
	httpClient *http.Client
	refresh    singleflight.Group

	mu       sync.Mutex
	machines map[string]*Machine
}

// Options configures the Authenticator.
type Options struct {
	// Registry holds the provider configurations. Required.
	Registry *Registry

	// Bridge runs exchanges and refresh timers. Required.
	Bridge *bridge.Bridge

	// Browser opens authorization URLs. Defaults to the system browser.
	Browser BrowserOpener

	// HTTPClient is an optional custom HTTP client for token endpoints.
	HTTPClient *http.Client
}

// New creates the authenticator and binds the redirect listener. A port
// bind failure is returned as a fatal error.
func New(ctx context.Context, opts Options) (*Authenticator, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	browser := opts.Browser
	if browser == nil {
		browser = OpenBrowser
	}

	a := &Authenticator{
		registry:   opts.Registry,
		br:         opts.Bridge,
		browser:    browser,
		httpClient: httpClient,
		machines:   make(map[string]*Machine),
	}

	a.listener = NewRedirectListener(opts.Registry.Port(), a.dispatchRedirect)
	if err := a.listener.Start(ctx); err != nil {
		return nil, err
	}

	return a, nil
}

// machine returns the Machine for the given provider, creating it lazily.
func (a *Authenticator) machine(cfg ProviderConfig) *Machine {
	a.mu.Lock()
	defer a.mu.Unlock()

	m, ok := a.machines[cfg.ID]
	if !ok {
		m = newMachine(cfg, a.br, a.httpClient, &a.refresh)
		a.machines[cfg.ID] = m
	}
	return m
}

// snapshotMachines returns the current machines without holding the lock
// during dispatch.
func (a *Authenticator) snapshotMachines() []*Machine {
	a.mu.Lock()
	defer a.mu.Unlock()

	machines := make([]*Machine, 0, len(a.machines))
	for _, m := range a.machines {
		machines = append(machines, m)
	}
	return machines
}

// StartFlow begins the authorization flow for the given provider and
// returns the authorization URL. The URL is also handed to the browser
// opener; an opener failure is logged but does not abort the flow, since
// the host can still present the returned URL itself.
func (a *Authenticator) StartFlow(providerID string) (string, error) {
	cfg, err := a.registry.Lookup(providerID)
	if err != nil {
		return "", err
	}

	authURL, err := a.machine(cfg).StartFlow()
	if err != nil {
		return "", err
	}

	if err := a.browser(authURL); err != nil {
		slog.Warn("Failed to open browser for authorization URL",
			"provider", providerID,
			"error", err.Error(),
		)
	}

	return authURL, nil
}

// Resume restores a token the host persisted in an earlier session and
// resumes its lifecycle (refresh scheduling or immediate refresh).
func (a *Authenticator) Resume(token *pkgoauth.Token) error {
	cfg, err := a.registry.Lookup(token.Provider)
	if err != nil {
		return err
	}
	a.machine(cfg).Resume(token)
	return nil
}

// dispatchRedirect routes a redirect hit to the machine whose pending flow
// owns the state nonce. The listener port is shared, so the nonce is the
// only routing key.
func (a *Authenticator) dispatchRedirect(values url.Values) error {
	nonce := values.Get("state")
	machines := a.snapshotMachines()

	if nonce != "" {
		for _, m := range machines {
			if m.matchesState(nonce) {
				return m.handleRedirect(values)
			}
		}
		for _, m := range machines {
			if m.isStaleState(nonce) {
				return ErrStaleFlow
			}
		}
	}

	for _, m := range machines {
		if m.hasPendingFlow() {
			slog.Warn("Redirect state does not match any pending flow")
			return ErrStateMismatch
		}
	}

	return ErrNoPendingFlow
}

// State returns the state of the given provider's machine. Providers with
// no machine yet report StateIdle.
func (a *Authenticator) State(providerID string) State {
	a.mu.Lock()
	m, ok := a.machines[providerID]
	a.mu.Unlock()

	if !ok {
		return StateIdle
	}
	return m.State()
}

// Logout cancels refresh timers and pending flows on every provider
// machine and discards in-flight exchange results.
func (a *Authenticator) Logout() {
	for _, m := range a.snapshotMachines() {
		m.Logout()
	}
}

// RedirectURI returns the shared redirect URI.
func (a *Authenticator) RedirectURI() string {
	return a.listener.RedirectURI()
}

// Close shuts down the redirect listener.
func (a *Authenticator) Close() {
	a.listener.Stop()
}
