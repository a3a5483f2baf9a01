package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"firetick/internal/bridge"
	pkgoauth "firetick/pkg/oauth"
)

// Machine drives the OAuth2 flow for a single provider:
// build authorization URL -> await redirect -> exchange code -> schedule
// refresh -> refresh or expire. All network work runs on the bridge's
// background context; results reach the host only as posted events.
//
// The machine keeps a private copy of the current token for refresh
// purposes. The host-owned token entity is updated exclusively through
// TokenUpdated events applied during drain.
type Machine struct {
	provider   ProviderConfig
	cfg        *oauth2.Config
	br         *bridge.Bridge
	httpClient *http.Client
	refresh    *singleflight.Group

	mu            sync.Mutex
	state         State
	flow          *pendingFlow
	staleNonces   map[string]time.Time // superseded nonces by the time they were retired
	flowGen       uint64               // bumped by StartFlow/Logout; in-flight exchanges from superseded flows are discarded
	tokenGen      uint64               // bumped when the credential is replaced or cleared; stale refresh results are discarded
	current       *pkgoauth.Token
	cancelRefresh func()
}

func newMachine(provider ProviderConfig, br *bridge.Bridge, httpClient *http.Client, refresh *singleflight.Group) *Machine {
	return &Machine{
		provider:    provider,
		cfg:         provider.oauthConfig(),
		br:          br,
		httpClient:  httpClient,
		refresh:     refresh,
		state:       StateIdle,
		staleNonces: make(map[string]time.Time),
	}
}

// State returns the machine's current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// StartFlow creates a fresh pending flow (replacing any previous one for
// this provider) and returns the authorization URL to open in a browser.
func (m *Machine) StartFlow() (string, error) {
	pkce, err := pkgoauth.GeneratePKCE()
	if err != nil {
		return "", fmt.Errorf("failed to generate PKCE: %w", err)
	}
	state, err := pkgoauth.GenerateState()
	if err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.flowGen++
	if m.flow != nil {
		// The old flow is superseded; redirects for its nonce get ErrStaleFlow.
		m.markStaleLocked(m.flow.state)
	}
	m.flow = &pendingFlow{
		provider:  m.provider.ID,
		state:     state,
		pkce:      pkce,
		createdAt: now(),
	}
	m.state = StateFlowStarted

	authURL := m.cfg.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", pkce.CodeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", pkce.CodeChallengeMethod),
	)

	m.state = StateAwaitingRedirect
	slog.Debug("Authentication flow started",
		"provider", m.provider.ID,
		"state", m.state.String(),
	)

	return authURL, nil
}

// matchesState reports whether the given nonce belongs to this machine's
// current pending flow.
func (m *Machine) matchesState(nonce string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flow != nil && m.flow.state == nonce
}

// isStaleState reports whether the nonce belonged to a flow this machine
// has since superseded or consumed.
func (m *Machine) isStaleState(nonce string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.staleNonces[nonce]
	return ok && now().Sub(at) <= FlowTimeout
}

// markStaleLocked retires a nonce and drops entries old enough that no
// redirect for them can still be in flight. Requires m.mu held.
func (m *Machine) markStaleLocked(nonce string) {
	ts := now()
	for n, at := range m.staleNonces {
		if ts.Sub(at) > FlowTimeout {
			delete(m.staleNonces, n)
		}
	}
	m.staleNonces[nonce] = ts
}

// hasPendingFlow reports whether a flow is awaiting its redirect.
func (m *Machine) hasPendingFlow() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flow != nil
}

// handleRedirect consumes the redirect for this machine's pending flow.
// The caller has already matched the state nonce. Returns the error to
// render on the browser response page; exchange results arrive later as
// bridge events.
func (m *Machine) handleRedirect(values url.Values) error {
	m.mu.Lock()

	flow := m.flow
	if flow == nil || flow.state != values.Get("state") {
		m.mu.Unlock()
		return ErrStaleFlow
	}

	if flow.expired() {
		m.flow = nil
		m.markStaleLocked(flow.state)
		m.state = StateIdle
		m.mu.Unlock()
		return ErrStaleFlow
	}

	// The flow is consumed either way: a provider denial terminates it and
	// an accepted code moves it into the exchange.
	m.flow = nil
	m.markStaleLocked(flow.state)

	if errCode := values.Get("error"); errCode != "" {
		exchErr := &ExchangeError{
			Provider:    m.provider.ID,
			Code:        errCode,
			Description: values.Get("error_description"),
		}
		m.state = StateIdle
		m.mu.Unlock()

		slog.Warn("Authorization denied by provider",
			"provider", exchErr.Provider,
			"error", exchErr.Code,
		)
		m.br.Post(AuthFailed{Provider: exchErr.Provider, Err: exchErr})
		return exchErr
	}

	code := values.Get("code")
	if code == "" {
		m.state = StateIdle
		m.mu.Unlock()
		exchErr := &ExchangeError{Provider: m.provider.ID, Err: errors.New("redirect carried no authorization code")}
		m.br.Post(AuthFailed{Provider: m.provider.ID, Err: exchErr})
		return exchErr
	}

	m.state = StateExchangingCode
	gen := m.flowGen
	verifier := flow.pkce.CodeVerifier
	m.mu.Unlock()

	m.br.Go("oauth-exchange-"+m.provider.ID, func(ctx context.Context) {
		m.exchangeCode(ctx, gen, code, verifier)
	})
	return nil
}

// exchangeContext injects the machine's HTTP client into the context so
// oauth2 uses it for the token endpoint (tests and emulators swap it).
func (m *Machine) exchangeContext(ctx context.Context) context.Context {
	if m.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
}

// exchangeCode trades the authorization code for tokens on the background
// context.
func (m *Machine) exchangeCode(ctx context.Context, gen uint64, code, verifier string) {
	tok, err := m.cfg.Exchange(m.exchangeContext(ctx), code,
		oauth2.SetAuthURLParam("code_verifier", verifier),
	)

	m.mu.Lock()
	if m.flowGen != gen {
		// Superseded by a newer flow or logout; drop the result.
		m.mu.Unlock()
		slog.Debug("Discarding stale exchange result", "provider", m.provider.ID)
		return
	}

	if err != nil {
		m.state = StateIdle
		m.mu.Unlock()

		exchErr := &ExchangeError{Provider: m.provider.ID, Err: err}
		slog.Warn("Token exchange failed", "provider", m.provider.ID, "error", err.Error())
		m.br.Post(AuthFailed{Provider: m.provider.ID, Err: exchErr})
		return
	}

	token := pkgoauth.FromOAuth2(m.provider.ID, tok)
	m.tokenGen++
	m.current = token
	m.state = StateAuthenticated
	m.scheduleRefreshLocked(token)
	m.mu.Unlock()

	slog.Info("Authentication successful", "provider", m.provider.ID)
	m.br.Post(TokenUpdated{Token: token})
}

// Resume installs a token restored by the host (e.g. from its own
// persistence) and resumes the lifecycle: refresh immediately when a
// refresh token exists and the access token is stale, otherwise schedule
// the usual proactive refresh. The token reaches the host-owned entity
// through the same TokenUpdated event as any other.
func (m *Machine) Resume(token *pkgoauth.Token) {
	m.mu.Lock()
	m.tokenGen++
	gen := m.tokenGen
	m.current = token

	if token.IsExpired() {
		if !token.HasRefreshToken() {
			m.current = nil
			m.state = StateExpired
			m.mu.Unlock()
			m.br.Post(AuthFailed{Provider: m.provider.ID, Err: ErrTokenExpired})
			return
		}
		m.state = StateRefreshing
		m.mu.Unlock()
		m.br.Go("oauth-refresh-"+m.provider.ID, func(ctx context.Context) {
			m.refreshToken(ctx, gen)
		})
		return
	}

	m.state = StateAuthenticated
	m.scheduleRefreshLocked(token)
	m.mu.Unlock()

	m.br.Post(TokenUpdated{Token: token})
}

// scheduleRefreshLocked arranges the proactive refresh for the given
// token, strictly before its expiry. Requires m.mu held.
func (m *Machine) scheduleRefreshLocked(token *pkgoauth.Token) {
	if m.cancelRefresh != nil {
		m.cancelRefresh()
		m.cancelRefresh = nil
	}

	deadline, ok := token.RefreshDeadline()
	if !ok {
		return
	}
	delay := deadline.Sub(now())
	if delay < 0 {
		delay = 0
	}

	gen := m.tokenGen
	m.cancelRefresh = m.br.After(delay, "oauth-refresh-"+m.provider.ID, func(ctx context.Context) {
		m.refreshToken(ctx, gen)
	})
}

// refreshToken performs the refresh-token exchange. Concurrent attempts
// for the same provider collapse into one via singleflight.
func (m *Machine) refreshToken(ctx context.Context, gen uint64) {
	m.mu.Lock()
	if m.tokenGen != gen || m.current == nil {
		m.mu.Unlock()
		return
	}

	if !m.current.HasRefreshToken() {
		m.current = nil
		m.state = StateExpired
		m.mu.Unlock()

		slog.Info("Token expired without refresh token", "provider", m.provider.ID)
		m.br.Post(AuthFailed{Provider: m.provider.ID, Err: ErrTokenExpired})
		return
	}

	m.state = StateRefreshing
	refreshToken := m.current.RefreshToken
	m.mu.Unlock()

	result, err, _ := m.refresh.Do(m.provider.ID, func() (interface{}, error) {
		src := m.cfg.TokenSource(m.exchangeContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
		return src.Token()
	})

	m.mu.Lock()
	if m.tokenGen != gen {
		m.mu.Unlock()
		slog.Debug("Discarding stale refresh result", "provider", m.provider.ID)
		return
	}

	if err != nil {
		// Rejected refresh token: clear credentials, back to idle.
		m.current = nil
		m.state = StateIdle
		if m.cancelRefresh != nil {
			m.cancelRefresh()
			m.cancelRefresh = nil
		}
		m.mu.Unlock()

		slog.Warn("Token refresh rejected", "provider", m.provider.ID, "error", err.Error())
		m.br.Post(AuthFailed{
			Provider: m.provider.ID,
			Err:      fmt.Errorf("%w: %v", ErrRefreshRejected, err),
		})
		return
	}

	token := pkgoauth.FromOAuth2(m.provider.ID, result.(*oauth2.Token))
	if token.RefreshToken == "" {
		// Providers may omit the refresh token on renewal; keep the old one.
		token.RefreshToken = refreshToken
	}
	m.current = token
	m.state = StateAuthenticated
	m.scheduleRefreshLocked(token)
	m.mu.Unlock()

	slog.Debug("Token refreshed", "provider", m.provider.ID)
	m.br.Post(TokenUpdated{Token: token})
}

// Logout cancels the refresh timer, discards any pending flow, and marks
// in-flight exchanges as stale so their eventual results are dropped.
func (m *Machine) Logout() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.flowGen++
	m.tokenGen++
	if m.cancelRefresh != nil {
		m.cancelRefresh()
		m.cancelRefresh = nil
	}
	if m.flow != nil {
		m.markStaleLocked(m.flow.state)
		m.flow = nil
	}
	m.current = nil
	m.state = StateIdle

	slog.Debug("Logged out", "provider", m.provider.ID)
}
