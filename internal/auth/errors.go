package auth

import (
	"errors"
	"fmt"
)

// ErrUnknownProvider is returned when an operation references a provider id
// that is not registered. Caller error, never retried.
var ErrUnknownProvider = errors.New("unknown provider")

// ErrStateMismatch is returned when a redirect's state parameter does not
// match the pending flow's nonce. Treated as a potential CSRF attempt; the
// pending flow is left untouched.
var ErrStateMismatch = errors.New("state parameter does not match pending flow")

// ErrStaleFlow is returned when a redirect arrives for a flow that was
// superseded by a newer one or timed out.
var ErrStaleFlow = errors.New("authentication flow superseded or expired")

// ErrNoPendingFlow is returned for redirect hits with no flow in progress
// at all (stray or duplicate browser requests).
var ErrNoPendingFlow = errors.New("no pending authentication")

// ErrRefreshRejected indicates the provider rejected the refresh token.
// Stored credentials are cleared and the host must start a new flow.
var ErrRefreshRejected = errors.New("refresh token rejected")

// ErrTokenExpired indicates the access token expired and no refresh token
// is available. The host must start a new interactive flow.
var ErrTokenExpired = errors.New("token expired and no refresh token available")

// ExchangeError carries the provider's error detail for a failed code or
// refresh exchange.
type ExchangeError struct {
	// Provider is the id of the provider that rejected the exchange.
	Provider string

	// Code is the OAuth error code reported by the provider (if any).
	Code string

	// Description is the human-readable error detail (if any).
	Description string

	// Err is the underlying transport or decode error (if any).
	Err error
}

// Error implements the error interface.
func (e *ExchangeError) Error() string {
	switch {
	case e.Code != "" && e.Description != "":
		return fmt.Sprintf("provider %s rejected exchange: %s - %s", e.Provider, e.Code, e.Description)
	case e.Code != "":
		return fmt.Sprintf("provider %s rejected exchange: %s", e.Provider, e.Code)
	case e.Err != nil:
		return fmt.Sprintf("provider %s exchange failed: %v", e.Provider, e.Err)
	default:
		return fmt.Sprintf("provider %s exchange failed", e.Provider)
	}
}

// Unwrap returns the underlying error for error chain inspection.
func (e *ExchangeError) Unwrap() error {
	return e.Err
}
