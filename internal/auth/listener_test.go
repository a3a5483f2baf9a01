package auth

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"firetick/internal/bridge"
)

// freePort grabs an ephemeral port for listener tests.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func getBody(t *testing.T, rawURL string) string {
	t.Helper()
	resp, err := http.Get(rawURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestRedirectListener_ServesHandlerOutcome(t *testing.T) {
	var mu sync.Mutex
	var gotValues url.Values
	var result error

	setResult := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		result = err
	}
	lastValues := func() url.Values {
		mu.Lock()
		defer mu.Unlock()
		return gotValues
	}

	port := freePort(t)
	l := NewRedirectListener(port, func(values url.Values) error {
		mu.Lock()
		defer mu.Unlock()
		gotValues = values
		return result
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, l.Start(ctx))
	defer l.Stop()

	base := "http://" + l.listener.Addr().String()

	t.Run("success page", func(t *testing.T) {
		setResult(nil)
		body := getBody(t, base+"/?code=abc&state=xyz")
		if !strings.Contains(body, "Sign-in complete") {
			t.Errorf("expected success page, got: %s", body)
		}
		if v := lastValues(); v.Get("code") != "abc" || v.Get("state") != "xyz" {
			t.Errorf("handler got wrong values: %v", lastValues())
		}
	})

	t.Run("no pending flow page", func(t *testing.T) {
		setResult(ErrNoPendingFlow)
		body := getBody(t, base+"/")
		if !strings.Contains(body, "No pending authentication") {
			t.Errorf("expected no-pending page, got: %s", body)
		}
	})

	t.Run("stale flow page", func(t *testing.T) {
		setResult(ErrStaleFlow)
		body := getBody(t, base+"/?code=abc&state=old")
		if !strings.Contains(body, "superseded or timed out") {
			t.Errorf("expected stale-flow page, got: %s", body)
		}
	})

	t.Run("provider error page", func(t *testing.T) {
		setResult(&ExchangeError{Provider: "google", Code: "access_denied", Description: "user cancelled"})
		body := getBody(t, base+"/?error=access_denied&error_description=user+cancelled")
		if !strings.Contains(body, "access_denied") || !strings.Contains(body, "user cancelled") {
			t.Errorf("expected provider error page, got: %s", body)
		}
	})

	t.Run("unknown path is 404", func(t *testing.T) {
		resp, err := http.Get(base + "/favicon.ico")
		require.NoError(t, err)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want 404", resp.StatusCode)
		}
	})
}

func TestRedirectListener_PortConflictIsFatal(t *testing.T) {
	port := freePort(t)
	occupied, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(port))
	require.NoError(t, err)
	defer occupied.Close()

	l := NewRedirectListener(port, func(url.Values) error { return nil })
	err = l.Start(context.Background())
	require.Error(t, err)
}

func TestAuthenticator_DispatchByStateNonce(t *testing.T) {
	br := bridge.New(context.Background())
	t.Cleanup(br.Close)

	reg, err := NewRegistry([]ProviderConfig{
		{ID: ProviderGoogle, ClientID: "C", ClientSecret: "S"},
		{ID: ProviderGithub, ClientID: "C2", ClientSecret: "S2"},
	}, freePort(t))
	require.NoError(t, err)

	opened := make(chan string, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := New(ctx, Options{
		Registry: reg,
		Bridge:   br,
		Browser:  func(u string) error { opened <- u; return nil },
	})
	require.NoError(t, err)
	defer a.Close()

	t.Run("no flow at all", func(t *testing.T) {
		err := a.dispatchRedirect(url.Values{"state": {"whatever"}, "code": {"x"}})
		require.ErrorIs(t, err, ErrNoPendingFlow)
	})

	authURL, err := a.StartFlow(ProviderGoogle)
	require.NoError(t, err)
	require.Equal(t, authURL, <-opened)
	nonce := stateFromAuthURL(t, authURL)

	t.Run("mismatched nonce leaves flow pending", func(t *testing.T) {
		err := a.dispatchRedirect(url.Values{"state": {"forged"}, "code": {"x"}})
		require.ErrorIs(t, err, ErrStateMismatch)
		require.Equal(t, StateAwaitingRedirect, a.State(ProviderGoogle))
	})

	t.Run("superseded nonce is stale", func(t *testing.T) {
		_, err := a.StartFlow(ProviderGoogle)
		require.NoError(t, err)
		<-opened

		err = a.dispatchRedirect(url.Values{"state": {nonce}, "code": {"x"}})
		require.ErrorIs(t, err, ErrStaleFlow)
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := a.StartFlow("unregistered")
		require.ErrorIs(t, err, ErrUnknownProvider)
	})

	t.Run("logout clears pending flows", func(t *testing.T) {
		a.Logout()
		require.Equal(t, StateIdle, a.State(ProviderGoogle))

		err := a.dispatchRedirect(url.Values{"state": {"anything"}, "code": {"x"}})
		require.ErrorIs(t, err, ErrNoPendingFlow)
	})
}
