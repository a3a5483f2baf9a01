package auth

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"
)

//go:embed templates/redirect_success.html
var redirectSuccessHTML string

//go:embed templates/redirect_error.html
var redirectErrorHTML string

//go:embed templates/redirect_no_flow.html
var redirectNoFlowHTML string

var (
	successTmpl = template.Must(template.New("success").Parse(redirectSuccessHTML))
	errorTmpl   = template.Must(template.New("error").Parse(redirectErrorHTML))
	noFlowTmpl  = template.Must(template.New("no_flow").Parse(redirectNoFlowHTML))
)

// RedirectListener is the local HTTP server that captures OAuth2 redirects.
// Unlike a per-flow callback server, it binds one fixed port for the whole
// plugin lifetime and demultiplexes hits by state nonce, since every
// provider flow shares it. It returns a static human-readable page to the
// browser; the token exchange itself happens asynchronously.
type RedirectListener struct {
	port     int
	handler  func(url.Values) error
	server   *http.Server
	listener net.Listener
}

// NewRedirectListener creates a listener for the given fixed port. The
// handler receives the parsed query parameters of each redirect hit and
// returns the typed rejection (if any) used to pick the response page.
func NewRedirectListener(port int, handler func(url.Values) error) *RedirectListener {
	if port == 0 {
		port = DefaultRedirectPort
	}
	return &RedirectListener{
		port:    port,
		handler: handler,
	}
}

// Start binds the port and begins serving. A bind failure is the one fatal
// startup error this package has: the port is part of the registered
// redirect URI and cannot be substituted at runtime.
func (l *RedirectListener) Start(ctx context.Context) error {
	addr := fmt.Sprintf("127.0.0.1:%d", l.port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind redirect listener on %s: %w", addr, err)
	}
	l.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/", l.handleRedirect)

	l.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := l.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			slog.Error("Redirect listener terminated", "error", err.Error())
		}
	}()

	go func() {
		<-ctx.Done()
		l.Stop()
	}()

	slog.Debug("Redirect listener started", "addr", addr)
	return nil
}

// handleRedirect serves GET / with the provider's query parameters.
func (l *RedirectListener) handleRedirect(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'unsafe-inline'")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	query := r.URL.Query()
	err := l.handler(query)

	tmpl := successTmpl
	data := map[string]string{}

	switch {
	case err == nil:
	case errors.Is(err, ErrNoPendingFlow):
		// Stray or duplicate hit; tell the user instead of failing.
		tmpl = noFlowTmpl
	case errors.Is(err, ErrStaleFlow):
		tmpl = errorTmpl
		data["Error"] = "stale_flow"
		data["Description"] = "This sign-in attempt was superseded or timed out. Please start again."
	case errors.Is(err, ErrStateMismatch):
		tmpl = errorTmpl
		data["Error"] = "state_mismatch"
		data["Description"] = "The response could not be matched to a pending sign-in."
	default:
		tmpl = errorTmpl
		data["Error"] = query.Get("error")
		data["Description"] = query.Get("error_description")
		if data["Error"] == "" {
			data["Error"] = "authentication_failed"
		}
	}

	if execErr := tmpl.Execute(w, data); execErr != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// Stop gracefully shuts down the listener.
func (l *RedirectListener) Stop() {
	if l.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.server.Shutdown(ctx)
	}
	if l.listener != nil {
		_ = l.listener.Close()
	}
}

// Port returns the port the listener is bound to.
func (l *RedirectListener) Port() int {
	return l.port
}

// RedirectURI returns the redirect URI registered with providers.
func (l *RedirectListener) RedirectURI() string {
	return fmt.Sprintf("http://localhost:%d/", l.port)
}
