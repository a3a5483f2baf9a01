// Package config loads the provider credentials and document database
// settings from the user's configuration directory. Defaults apply first; a
// missing config file is not an error.
package config

// Config is the top-level configuration.
type Config struct {
	// Providers maps provider ids ("google", "github") to their OAuth2
	// application credentials.
	Providers map[string]ProviderCredentials `yaml:"providers,omitempty"`

	// RedirectPort is the fixed local port of the shared redirect
	// listener. All providers use it.
	RedirectPort int `yaml:"redirectPort,omitempty"`

	// Firestore selects the document database backend.
	Firestore FirestoreConfig `yaml:"firestore,omitempty"`
}

// ProviderCredentials are the OAuth2 application credentials for one
// provider. Endpoint URLs are only needed for non-built-in providers.
type ProviderCredentials struct {
	ClientID     string   `yaml:"clientId"`
	ClientSecret string   `yaml:"clientSecret,omitempty"`
	Scopes       []string `yaml:"scopes,omitempty"`
	AuthURL      string   `yaml:"authUrl,omitempty"`
	TokenURL     string   `yaml:"tokenUrl,omitempty"`
}

// FirestoreConfig addresses the document database.
type FirestoreConfig struct {
	Project  string `yaml:"project,omitempty"`
	Database string `yaml:"database,omitempty"`

	// EmulatorHost overrides the API base URL, e.g.
	// "http://localhost:8080" for a local emulator.
	EmulatorHost string `yaml:"emulatorHost,omitempty"`
}
