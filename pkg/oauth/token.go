// Package oauth provides the shared OAuth 2.0 primitives used by the
// authentication state machine and the document RPC session: the immutable
// Token value, PKCE challenge generation, state nonce generation, and
// identity claim extraction from OIDC ID tokens.
package oauth

import (
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultExpiryMargin is the default margin when checking token expiry.
// This accounts for clock skew and network latency.
const DefaultExpiryMargin = 30 * time.Second

// RefreshMargin is how long before expiry a refresh is scheduled. Refresh
// timers always fire strictly before the access token expires.
const RefreshMargin = 60 * time.Second

// Token is a snapshot of the credentials obtained from one provider.
// Tokens have value semantics: a new Token replaces its predecessor
// wholesale, it is never mutated in place.
type Token struct {
	// Provider is the id of the registered provider that issued this token.
	Provider string `json:"provider"`

	// AccessToken is the bearer token used for authorization.
	AccessToken string `json:"access_token"`

	// TokenType is typically "Bearer".
	TokenType string `json:"token_type,omitempty"`

	// RefreshToken is used to obtain new access tokens (optional).
	RefreshToken string `json:"refresh_token,omitempty"`

	// Expiry is when the access token expires. Zero means no expiry.
	Expiry time.Time `json:"expiry,omitempty"`

	// IDToken is the raw OIDC ID token (if the provider returned one).
	IDToken string `json:"id_token,omitempty"`

	// Claims holds the identity decoded from IDToken, when available.
	Claims *IdentityClaims `json:"claims,omitempty"`
}

// IsExpired checks if the token has expired.
// Returns true if the token is expired or will expire within the default margin.
func (t *Token) IsExpired() bool {
	return t.IsExpiredWithMargin(DefaultExpiryMargin)
}

// IsExpiredWithMargin checks if the token has expired or will expire within the margin.
func (t *Token) IsExpiredWithMargin(margin time.Duration) bool {
	if t.Expiry.IsZero() {
		return false // Tokens without expiration don't expire
	}
	return time.Now().Add(margin).After(t.Expiry)
}

// HasRefreshToken reports whether this token can be refreshed without a
// new interactive flow.
func (t *Token) HasRefreshToken() bool {
	return t.RefreshToken != ""
}

// Bearer returns the value for an Authorization header.
func (t *Token) Bearer() string {
	typ := t.TokenType
	if typ == "" {
		typ = "Bearer"
	}
	return typ + " " + t.AccessToken
}

// RefreshDeadline returns when a refresh should fire for this token.
// The result is always strictly before Expiry. Returns false when the
// token never expires.
func (t *Token) RefreshDeadline() (time.Time, bool) {
	if t.Expiry.IsZero() {
		return time.Time{}, false
	}
	return t.Expiry.Add(-RefreshMargin), true
}

// FromOAuth2 converts an oauth2.Token obtained from a code or refresh
// exchange into a Token for the given provider. The id_token extra, when
// present, is decoded into identity claims; decoding failures leave Claims
// nil rather than failing the exchange.
func FromOAuth2(provider string, tok *oauth2.Token) *Token {
	t := &Token{
		Provider:     provider,
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}

	if idToken, ok := tok.Extra("id_token").(string); ok && idToken != "" {
		t.IDToken = idToken
		if claims, err := DecodeIdentity(idToken); err == nil {
			t.Claims = claims
		}
	}

	return t
}

// ToOAuth2 converts the Token back to an oauth2.Token, e.g. to seed a
// refresh TokenSource.
func (t *Token) ToOAuth2() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
		Expiry:       t.Expiry,
	}

	if t.IDToken != "" {
		tok = tok.WithExtra(map[string]interface{}{
			"id_token": t.IDToken,
		})
	}

	return tok
}

// JoinScopes renders a scope set the way authorization endpoints expect it.
func JoinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}
