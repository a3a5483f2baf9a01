package auth

import (
	"fmt"
	"sort"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

// DefaultRedirectPort is the default local port for the redirect listener.
const DefaultRedirectPort = 8085

// Built-in provider ids with known endpoints.
const (
	ProviderGoogle = "google"
	ProviderGithub = "github"
)

// ProviderConfig describes one registered OAuth2 provider.
// Immutable after registry construction.
type ProviderConfig struct {
	// ID identifies the provider, e.g. "google" or "github".
	ID string

	// ClientID and ClientSecret are the application credentials issued by
	// the provider.
	ClientID     string
	ClientSecret string

	// Scopes are requested during authorization, space-joined on the wire.
	Scopes []string

	// Endpoint holds the authorization and token endpoint URLs. Left zero
	// for built-in providers, which get their well-known endpoints.
	Endpoint oauth2.Endpoint

	// RedirectPort is the fixed local port the redirect listener binds.
	// All providers share the single listener, so every registered
	// provider must agree on this port.
	RedirectPort int
}

// oauthConfig builds the oauth2.Config driving URL construction, code
// exchange and refresh for this provider.
func (p ProviderConfig) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		Endpoint:     p.Endpoint,
		RedirectURL:  fmt.Sprintf("http://localhost:%d/", p.RedirectPort),
		Scopes:       p.Scopes,
	}
}

// defaultEndpoint returns the well-known endpoint for built-in providers.
func defaultEndpoint(id string) (oauth2.Endpoint, bool) {
	switch id {
	case ProviderGoogle:
		return endpoints.Google, true
	case ProviderGithub:
		return endpoints.GitHub, true
	default:
		return oauth2.Endpoint{}, false
	}
}

// defaultScopes returns the scopes requested when none are configured.
func defaultScopes(id string) []string {
	switch id {
	case ProviderGoogle:
		return []string{"openid", "profile", "email"}
	case ProviderGithub:
		return []string{"read:user"}
	default:
		return nil
	}
}

// Registry maps provider ids to their configuration. Read-only after
// construction.
type Registry struct {
	providers map[string]ProviderConfig
	port      int
}

// NewRegistry validates and indexes the given provider configurations.
// Built-in providers (google, github) get well-known endpoints and scopes
// when the config leaves them empty. defaultPort applies to providers
// without an explicit redirect port; since the redirect listener is shared,
// all providers must end up on the same port.
func NewRegistry(configs []ProviderConfig, defaultPort int) (*Registry, error) {
	if defaultPort == 0 {
		defaultPort = DefaultRedirectPort
	}

	providers := make(map[string]ProviderConfig, len(configs))
	for _, cfg := range configs {
		if cfg.ID == "" {
			return nil, fmt.Errorf("provider config without id")
		}
		if _, exists := providers[cfg.ID]; exists {
			return nil, fmt.Errorf("provider %q registered twice", cfg.ID)
		}
		if cfg.ClientID == "" {
			return nil, fmt.Errorf("provider %q has no client id", cfg.ID)
		}

		if cfg.Endpoint.AuthURL == "" || cfg.Endpoint.TokenURL == "" {
			ep, ok := defaultEndpoint(cfg.ID)
			if !ok {
				return nil, fmt.Errorf("provider %q has no endpoint configured and is not built in", cfg.ID)
			}
			cfg.Endpoint = ep
		}
		if len(cfg.Scopes) == 0 {
			cfg.Scopes = defaultScopes(cfg.ID)
		}
		if cfg.RedirectPort == 0 {
			cfg.RedirectPort = defaultPort
		}
		if cfg.RedirectPort != defaultPort {
			return nil, fmt.Errorf("provider %q wants redirect port %d but the shared listener uses %d",
				cfg.ID, cfg.RedirectPort, defaultPort)
		}

		providers[cfg.ID] = cfg
	}

	return &Registry{providers: providers, port: defaultPort}, nil
}

// Lookup returns the configuration for the given provider id.
func (r *Registry) Lookup(id string) (ProviderConfig, error) {
	cfg, ok := r.providers[id]
	if !ok {
		return ProviderConfig{}, fmt.Errorf("%w: %q", ErrUnknownProvider, id)
	}
	return cfg, nil
}

// IDs returns the registered provider ids in stable order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Port returns the shared redirect listener port.
func (r *Registry) Port() int {
	return r.port
}
