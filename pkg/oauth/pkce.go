package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

const (
	// pkceVerifierBytes is the number of random bytes for the PKCE code verifier.
	// 32 bytes provides 256 bits of entropy, which is recommended for security.
	pkceVerifierBytes = 32

	// stateBytes is the number of random bytes for the OAuth state parameter.
	// 32 bytes encodes to 43 base64url characters, satisfying OAuth servers that
	// require a minimum of 32 characters.
	stateBytes = 32
)

// PKCEChallenge represents a PKCE (Proof Key for Code Exchange) challenge.
// PKCE prevents interception of the authorization code by a malicious app
// sharing the loopback redirect.
type PKCEChallenge struct {
	// CodeVerifier is the cryptographically random string, base64url-encoded.
	// This is kept secret and never transmitted to the browser.
	CodeVerifier string

	// CodeChallenge is the SHA256 hash of the verifier (base64url-encoded).
	// This is sent in the authorization request.
	CodeChallenge string

	// CodeChallengeMethod is always "S256".
	CodeChallengeMethod string
}

// GeneratePKCE generates a new PKCE code verifier and challenge.
// The code verifier is 32 random bytes (256 bits), base64url-encoded.
// The code challenge is the S256 (SHA256) hash of the verifier.
func GeneratePKCE() (*PKCEChallenge, error) {
	verifierBytes := make([]byte, pkceVerifierBytes)
	if _, err := rand.Read(verifierBytes); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes for PKCE: %w", err)
	}

	verifier := base64.RawURLEncoding.EncodeToString(verifierBytes)

	hash := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(hash[:])

	return &PKCEChallenge{
		CodeVerifier:        verifier,
		CodeChallenge:       challenge,
		CodeChallengeMethod: "S256",
	}, nil
}

// GenerateState generates a random state nonce for OAuth.
// The state links the authorization response back to the pending flow and
// prevents CSRF attacks.
//
// Returns a base64url-encoded random string.
func GenerateState() (string, error) {
	buf := make([]byte, stateBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}
