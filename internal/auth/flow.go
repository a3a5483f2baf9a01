package auth

import (
	"time"

	"firetick/pkg/oauth"
)

// FlowTimeout is how long a pending flow waits for the browser round trip
// before redirects for it are rejected as stale.
const FlowTimeout = 10 * time.Minute

// now is swapped in tests that exercise flow expiry.
var now = time.Now

// pendingFlow tracks one in-progress authorization round trip. At most one
// exists per provider; starting a new flow replaces it.
type pendingFlow struct {
	provider  string
	state     string
	pkce      *oauth.PKCEChallenge
	createdAt time.Time
}

func (f *pendingFlow) expired() bool {
	return now().Sub(f.createdAt) > FlowTimeout
}
