package oauth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// IdentityClaims holds the identity claims extracted from an OIDC ID token.
// The token arrives directly from the provider's token endpoint over TLS,
// so it is decoded without signature verification.
type IdentityClaims struct {
	// Subject is the unique user identifier (sub claim).
	Subject string `json:"sub"`
	// Email is the user's email address (email claim).
	Email string `json:"email,omitempty"`
	// Name is the user's display name (name claim).
	Name string `json:"name,omitempty"`
}

// DecodeIdentity extracts identity claims from a raw ID token without
// verifying its signature.
func DecodeIdentity(idToken string) (*IdentityClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return nil, fmt.Errorf("failed to parse id token: %w", err)
	}

	identity := &IdentityClaims{}
	if sub, ok := claims["sub"].(string); ok {
		identity.Subject = sub
	}
	if email, ok := claims["email"].(string); ok {
		identity.Email = email
	}
	if name, ok := claims["name"].(string); ok {
		identity.Name = name
	}

	return identity, nil
}
