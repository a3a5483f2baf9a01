// Package client is the host-facing facade. It wires the authenticator,
// the task bridge and the document session into one non-blocking API meant
// to be driven from a fixed-tick loop: submit calls at any point of the
// tick, call PollEvents exactly once per tick to apply and collect results.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"firetick/internal/auth"
	"firetick/internal/bridge"
	"firetick/internal/config"
	"firetick/internal/docstore"
	"firetick/pkg/oauth"
)

// DefaultFirestoreBaseURL is the production document database endpoint.
const DefaultFirestoreBaseURL = "https://firestore.googleapis.com"

// Options configures a Client.
type Options struct {
	// Providers are the OAuth2 provider configurations. Required.
	Providers []auth.ProviderConfig

	// RedirectPort overrides the shared redirect listener port.
	RedirectPort int

	// Transport is the document database backend. Required.
	Transport docstore.Transport

	// Browser opens authorization URLs. Defaults to the system browser.
	Browser auth.BrowserOpener

	// HTTPClient is an optional custom HTTP client for token endpoints.
	HTTPClient *http.Client

	// RestoredToken is a token persisted by the host in an earlier
	// session. It is resumed at construction: refreshed immediately when
	// expired, scheduled for refresh otherwise. The resulting TokenUpdated
	// arrives via PollEvents like any other.
	RestoredToken *oauth.Token
}

// Client exposes the per-tick API. All methods are non-blocking; results
// and change notifications arrive as events from PollEvents. The token
// entity and the watch table are mutated only inside PollEvents, so hosts
// driving the client from a single goroutine need no further locking.
type Client struct {
	br      *bridge.Bridge
	auth    *auth.Authenticator
	session *docstore.Session

	mu    sync.Mutex
	token *oauth.Token
}

// New builds and starts a client. The redirect listener binds immediately;
// a port conflict is the one fatal startup error.
func New(ctx context.Context, opts Options) (*Client, error) {
	if opts.Transport == nil {
		return nil, fmt.Errorf("no document transport configured")
	}

	registry, err := auth.NewRegistry(opts.Providers, opts.RedirectPort)
	if err != nil {
		return nil, err
	}

	br := bridge.New(ctx)
	authenticator, err := auth.New(ctx, auth.Options{
		Registry:   registry,
		Bridge:     br,
		Browser:    opts.Browser,
		HTTPClient: opts.HTTPClient,
	})
	if err != nil {
		br.Close()
		return nil, err
	}

	c := &Client{
		br:      br,
		auth:    authenticator,
		session: docstore.NewSession(opts.Transport, br),
	}

	if opts.RestoredToken != nil {
		if err := c.auth.Resume(opts.RestoredToken); err != nil {
			c.Close()
			return nil, err
		}
	}

	return c, nil
}

// StartFlow begins signing in with the given provider. When the current
// token for that provider still holds a refresh token, the interactive
// round trip is skipped in favor of a refresh and the returned URL is
// empty; otherwise the authorization URL is returned (and handed to the
// browser opener).
func (c *Client) StartFlow(providerID string) (string, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	if token != nil && token.Provider == providerID && token.HasRefreshToken() {
		return "", c.auth.Resume(token)
	}
	return c.auth.StartFlow(providerID)
}

// Logout discards the token, cancels refresh timers and pending flows, and
// drops the session credential. In-flight exchange results are discarded.
func (c *Client) Logout() {
	c.auth.Logout()
	c.session.ClearToken()

	c.mu.Lock()
	c.token = nil
	c.mu.Unlock()
}

// CurrentToken returns the live token, if any. Hosts that persist
// credentials across runs read it here after a TokenUpdated event.
func (c *Client) CurrentToken() (*oauth.Token, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token, c.token != nil
}

// CurrentIdentity returns the identity claims decoded from the live
// token's identity token, if any.
func (c *Client) CurrentIdentity() (*oauth.IdentityClaims, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token == nil || c.token.Claims == nil {
		return nil, false
	}
	return c.token.Claims, true
}

// AuthState reports the authentication state of the given provider.
func (c *Client) AuthState(providerID string) auth.State {
	return c.auth.State(providerID)
}

// Get fetches a document; the result arrives as an RPCResult event.
func (c *Client) Get(path string) (docstore.Handle, error) {
	return c.session.Get(path)
}

// Set writes a document; the acknowledgement arrives as an RPCResult event.
func (c *Client) Set(path string, fields map[string]any) (docstore.Handle, error) {
	return c.session.Set(path, fields)
}

// Delete removes a document; the acknowledgement arrives as an RPCResult
// event.
func (c *Client) Delete(path string) (docstore.Handle, error) {
	return c.session.Delete(path)
}

// Watch subscribes to a document path; changes arrive as DocumentChanged
// events until Unwatch, with stream failures as a terminal StreamDropped.
func (c *Client) Watch(path string) (docstore.Handle, error) {
	return c.session.Watch(path)
}

// Unwatch removes the subscription for path, if any.
func (c *Client) Unwatch(path string) {
	c.session.Unwatch(path)
}

// Watches returns the handles of the active subscriptions.
func (c *Client) Watches() []docstore.Handle {
	return c.session.Watches()
}

// PollEvents drains the bridge, applies each event to the host-owned state
// and returns the surviving events in completion order. Called once per
// tick; with no completed work it returns nil. Token replacement and watch
// table changes happen only here, which is what keeps every other method
// lock-free for the host.
func (c *Client) PollEvents() []bridge.Event {
	drained := c.br.Drain()
	if len(drained) == 0 {
		return nil
	}

	events := make([]bridge.Event, 0, len(drained))
	for _, ev := range drained {
		switch e := ev.(type) {
		case auth.TokenUpdated:
			c.applyToken(e.Token)
		case auth.AuthFailed:
			c.applyAuthFailure(e)
		default:
			if !c.session.Admit(ev) {
				continue
			}
		}
		events = append(events, ev)
	}
	return events
}

func (c *Client) applyToken(token *oauth.Token) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	c.session.SetToken(token.AccessToken)
}

// applyAuthFailure clears credentials when the failure invalidated them: a
// rejected refresh token or an expiry without refresh means the stored
// token is dead and document calls must stop using it.
func (c *Client) applyAuthFailure(e auth.AuthFailed) {
	if !errors.Is(e.Err, auth.ErrRefreshRejected) && !errors.Is(e.Err, auth.ErrTokenExpired) {
		return
	}

	c.mu.Lock()
	match := c.token != nil && c.token.Provider == e.Provider
	if match {
		c.token = nil
	}
	c.mu.Unlock()

	if match {
		c.session.ClearToken()
	}
}

// RedirectURI returns the redirect URI registered with the providers.
func (c *Client) RedirectURI() string {
	return c.auth.RedirectURI()
}

// Close shuts the client down: subscriptions are cancelled, the redirect
// listener stops and background tasks are waited for.
func (c *Client) Close() {
	c.session.Close()
	c.auth.Close()
	c.br.Close()
}

// ProvidersFromConfig converts configured credentials into provider
// configurations, applying the shared redirect port.
func ProvidersFromConfig(cfg config.Config) []auth.ProviderConfig {
	providers := make([]auth.ProviderConfig, 0, len(cfg.Providers))
	for id, creds := range cfg.Providers {
		p := auth.ProviderConfig{
			ID:           id,
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			Scopes:       creds.Scopes,
			RedirectPort: cfg.RedirectPort,
		}
		p.Endpoint.AuthURL = creds.AuthURL
		p.Endpoint.TokenURL = creds.TokenURL
		providers = append(providers, p)
	}
	return providers
}

// TransportFromConfig builds the document transport: the emulator host
// when configured, the production endpoint otherwise.
func TransportFromConfig(cfg config.Config, httpClient *http.Client) docstore.Transport {
	baseURL := cfg.Firestore.EmulatorHost
	if baseURL == "" {
		baseURL = DefaultFirestoreBaseURL
	}
	return docstore.NewHTTPTransport(baseURL, cfg.Firestore.Project, cfg.Firestore.Database, httpClient)
}
