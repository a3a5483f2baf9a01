package client

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"firetick/internal/auth"
	"firetick/internal/bridge"
	"firetick/internal/config"
	"firetick/internal/docstore"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func signedIDToken(t *testing.T, subject, email, name string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   subject,
		"email": email,
		"name":  name,
	})
	signed, err := token.SignedString([]byte("test-key"))
	require.NoError(t, err)
	return signed
}

// stubProvider serves the token endpoint of a fake OAuth2 provider.
func stubProvider(t *testing.T, idToken string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/token" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "tok1",
			"token_type":    "Bearer",
			"expires_in":    3600,
			"refresh_token": "r1",
			"id_token":      idToken,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, transport docstore.Transport) (*Client, int, chan string) {
	t.Helper()

	idToken := signedIDToken(t, "user-1", "link@hyrule.example", "Link")
	provider := stubProvider(t, idToken)
	port := freePort(t)

	opened := make(chan string, 4)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	c, err := New(ctx, Options{
		Providers: []auth.ProviderConfig{{
			ID:           auth.ProviderGoogle,
			ClientID:     "C",
			ClientSecret: "S",
			Scopes:       []string{"openid", "email"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   provider.URL + "/auth",
				TokenURL:  provider.URL + "/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		}},
		RedirectPort: port,
		Transport:    transport,
		Browser:      func(u string) error { opened <- u; return nil },
		HTTPClient:   provider.Client(),
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c, port, opened
}

// pollUntil ticks the client until pred accepts an event or the deadline
// passes, returning all events seen.
func pollUntil(t *testing.T, c *Client, pred func(bridge.Event) bool) []bridge.Event {
	t.Helper()
	var seen []bridge.Event
	deadline := time.After(3 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for event, saw: %v", seen)
		default:
		}
		for _, ev := range c.PollEvents() {
			seen = append(seen, ev)
			if pred(ev) {
				return seen
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func completeSignIn(t *testing.T, c *Client, port int, opened chan string) {
	t.Helper()

	authURL, err := c.StartFlow(auth.ProviderGoogle)
	require.NoError(t, err)
	require.Equal(t, authURL, <-opened)

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	q := parsed.Query()
	assert.Equal(t, "C", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Contains(t, q.Get("redirect_uri"), "http://localhost:")
	require.NotEmpty(t, q.Get("state"))

	// Simulate the provider redirecting the browser back.
	redirect := (&url.URL{
		Scheme:   "http",
		Host:     net.JoinHostPort("127.0.0.1", strconv.Itoa(port)),
		Path:     "/",
		RawQuery: url.Values{"state": {q.Get("state")}, "code": {"abc123"}}.Encode(),
	}).String()
	resp, err := http.Get(redirect)
	require.NoError(t, err)
	resp.Body.Close()

	before := time.Now()
	events := pollUntil(t, c, func(ev bridge.Event) bool {
		_, ok := ev.(auth.TokenUpdated)
		return ok
	})
	updated := events[len(events)-1].(auth.TokenUpdated)
	assert.Equal(t, "tok1", updated.Token.AccessToken)
	assert.Equal(t, "r1", updated.Token.RefreshToken)
	assert.WithinDuration(t, before.Add(time.Hour), updated.Token.Expiry, 5*time.Second)
	assert.Equal(t, auth.StateAuthenticated, c.AuthState(auth.ProviderGoogle))
}

func TestClient_SignInThenDocumentRoundTrip(t *testing.T) {
	c, port, opened := newTestClient(t, docstore.NewMemoryTransport())

	// No token yet: document calls fail locally, nothing is sent.
	_, err := c.Get("users/42")
	require.ErrorIs(t, err, docstore.ErrUnauthenticated)

	completeSignIn(t, c, port, opened)

	claims, ok := c.CurrentIdentity()
	require.True(t, ok)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "link@hyrule.example", claims.Email)
	assert.Equal(t, "Link", claims.Name)

	fields := map[string]any{"name": "zelda", "level": 7}
	setHandle, err := c.Set("users/42", fields)
	require.NoError(t, err)
	pollUntil(t, c, func(ev bridge.Event) bool {
		res, ok := ev.(docstore.RPCResult)
		if !ok || res.Handle.ID != setHandle.ID {
			return false
		}
		require.NoError(t, res.Err)
		return true
	})

	getHandle, err := c.Get("users/42")
	require.NoError(t, err)
	pollUntil(t, c, func(ev bridge.Event) bool {
		res, ok := ev.(docstore.RPCResult)
		if !ok || res.Handle.ID != getHandle.ID {
			return false
		}
		require.NoError(t, res.Err)
		assert.Equal(t, fields, res.Doc.Fields)
		return true
	})
}

func TestClient_WatchAcrossSignIn(t *testing.T) {
	m := docstore.NewMemoryTransport()
	c, port, opened := newTestClient(t, m)
	completeSignIn(t, c, port, opened)

	watchHandle, err := c.Watch("users/42")
	require.NoError(t, err)
	require.Len(t, c.Watches(), 1)

	_, err = m.Set(context.Background(), "users/42", map[string]any{"level": 2}, "seed")
	require.NoError(t, err)

	pollUntil(t, c, func(ev bridge.Event) bool {
		change, ok := ev.(docstore.DocumentChanged)
		if !ok {
			return false
		}
		assert.Equal(t, watchHandle.ID, change.Handle.ID)
		assert.Equal(t, 2, change.Doc.Fields["level"])
		return true
	})

	c.Unwatch("users/42")
	assert.Empty(t, c.Watches())
}

func TestClient_LogoutClearsEverything(t *testing.T) {
	c, port, opened := newTestClient(t, docstore.NewMemoryTransport())
	completeSignIn(t, c, port, opened)

	c.Logout()

	_, ok := c.CurrentToken()
	assert.False(t, ok)
	_, ok = c.CurrentIdentity()
	assert.False(t, ok)
	assert.Equal(t, auth.StateIdle, c.AuthState(auth.ProviderGoogle))

	_, err := c.Get("users/42")
	assert.ErrorIs(t, err, docstore.ErrUnauthenticated)
}

func TestClient_StartFlowPrefersRefreshToken(t *testing.T) {
	c, port, opened := newTestClient(t, docstore.NewMemoryTransport())
	completeSignIn(t, c, port, opened)

	// With a live refresh token no interactive round trip is needed.
	authURL, err := c.StartFlow(auth.ProviderGoogle)
	require.NoError(t, err)
	assert.Empty(t, authURL)
	select {
	case u := <-opened:
		t.Fatalf("browser opened unexpectedly: %s", u)
	default:
	}

}

func TestClient_RequiresTransport(t *testing.T) {
	_, err := New(context.Background(), Options{
		Providers: []auth.ProviderConfig{{ID: auth.ProviderGoogle, ClientID: "C"}},
	})
	require.Error(t, err)
}

func TestProvidersFromConfig(t *testing.T) {
	cfg := config.Config{
		RedirectPort: 9097,
		Providers: map[string]config.ProviderCredentials{
			"google": {ClientID: "C", ClientSecret: "S"},
			"custom": {
				ClientID: "C3",
				AuthURL:  "https://id.example/auth",
				TokenURL: "https://id.example/token",
			},
		},
	}

	providers := ProvidersFromConfig(cfg)
	require.Len(t, providers, 2)

	byID := map[string]auth.ProviderConfig{}
	for _, p := range providers {
		byID[p.ID] = p
	}
	assert.Equal(t, "C", byID["google"].ClientID)
	assert.Equal(t, 9097, byID["google"].RedirectPort)
	assert.Equal(t, "https://id.example/auth", byID["custom"].Endpoint.AuthURL)
}

func TestTransportFromConfig_EmulatorOverride(t *testing.T) {
	tr := TransportFromConfig(config.Config{
		Firestore: config.FirestoreConfig{
			Project:      "p1",
			EmulatorHost: "http://localhost:8080",
		},
	}, nil)

	httpTr, ok := tr.(*docstore.HTTPTransport)
	require.True(t, ok)
	assert.Equal(t, "http://localhost:8080", httpTr.BaseURL)
	assert.Equal(t, "(default)", httpTr.Database)
}
