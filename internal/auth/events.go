package auth

import (
	"firetick/pkg/oauth"
)

// TokenUpdated is posted whenever a code or refresh exchange produced a new
// token. The host applies it to its token entity during drain; the new
// Token replaces any predecessor wholesale.
type TokenUpdated struct {
	Token *oauth.Token
}

// EventName identifies the event kind.
func (TokenUpdated) EventName() string { return "auth.token_updated" }

// AuthFailed is posted when a flow or refresh failed. Err carries the
// typed reason: an *ExchangeError for provider rejections, ErrRefreshRejected
// (wrapped) when stored credentials became invalid, ErrTokenExpired when no
// refresh was possible.
type AuthFailed struct {
	Provider string
	Err      error
}

// EventName identifies the event kind.
func (AuthFailed) EventName() string { return "auth.failed" }
