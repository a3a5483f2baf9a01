package oauth

import (
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func TestToken_IsExpired(t *testing.T) {
	tests := []struct {
		name  string
		token *Token
		want  bool
	}{
		{
			name: "not expired",
			token: &Token{
				Expiry: time.Now().Add(time.Hour),
			},
			want: false,
		},
		{
			name: "expired",
			token: &Token{
				Expiry: time.Now().Add(-time.Hour),
			},
			want: true,
		},
		{
			name: "expires within margin",
			token: &Token{
				Expiry: time.Now().Add(15 * time.Second), // Less than 30s margin
			},
			want: true,
		},
		{
			name: "no expiry set",
			token: &Token{
				Expiry: time.Time{},
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.token.IsExpired(); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestToken_RefreshDeadline(t *testing.T) {
	expiry := time.Now().Add(time.Hour)
	tok := &Token{Expiry: expiry}

	deadline, ok := tok.RefreshDeadline()
	if !ok {
		t.Fatal("RefreshDeadline() returned false for expiring token")
	}

	// The deadline must be strictly before expiry, by the refresh margin.
	if !deadline.Before(expiry) {
		t.Errorf("deadline %v is not before expiry %v", deadline, expiry)
	}
	if got := expiry.Sub(deadline); got != RefreshMargin {
		t.Errorf("expiry - deadline = %v, want %v", got, RefreshMargin)
	}

	if _, ok := (&Token{}).RefreshDeadline(); ok {
		t.Error("RefreshDeadline() returned true for token without expiry")
	}
}

func TestToken_Bearer(t *testing.T) {
	tok := &Token{AccessToken: "abc"}
	if got := tok.Bearer(); got != "Bearer abc" {
		t.Errorf("Bearer() = %q, want %q", got, "Bearer abc")
	}

	tok = &Token{AccessToken: "abc", TokenType: "MAC"}
	if got := tok.Bearer(); got != "MAC abc" {
		t.Errorf("Bearer() = %q, want %q", got, "MAC abc")
	}
}

func TestFromOAuth2_RoundTrip(t *testing.T) {
	expiry := time.Now().Add(time.Hour).Truncate(time.Second)
	src := (&oauth2.Token{
		AccessToken:  "access",
		TokenType:    "Bearer",
		RefreshToken: "refresh",
		Expiry:       expiry,
	}).WithExtra(map[string]interface{}{"id_token": "not-a-jwt"})

	tok := FromOAuth2("google", src)

	if tok.Provider != "google" {
		t.Errorf("Provider = %q, want %q", tok.Provider, "google")
	}
	if tok.AccessToken != "access" || tok.RefreshToken != "refresh" {
		t.Errorf("unexpected token contents: %+v", tok)
	}
	if tok.IDToken != "not-a-jwt" {
		t.Errorf("IDToken = %q, want %q", tok.IDToken, "not-a-jwt")
	}
	// A malformed ID token must not fail the conversion.
	if tok.Claims != nil {
		t.Errorf("Claims = %+v, want nil for malformed id token", tok.Claims)
	}

	back := tok.ToOAuth2()
	if back.AccessToken != "access" || back.RefreshToken != "refresh" || !back.Expiry.Equal(expiry) {
		t.Errorf("ToOAuth2() round trip mismatch: %+v", back)
	}
	if got, _ := back.Extra("id_token").(string); got != "not-a-jwt" {
		t.Errorf("id_token extra = %q, want %q", got, "not-a-jwt")
	}
}
