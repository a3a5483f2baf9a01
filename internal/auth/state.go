package auth

// State represents where a provider's authentication machine currently is
// in its lifecycle.
type State int

const (
	// StateIdle means no flow is in progress and no token is held.
	StateIdle State = iota

	// StateFlowStarted means a pending flow was created but the
	// authorization URL has not been handed off yet.
	StateFlowStarted

	// StateAwaitingRedirect means the browser round trip is in progress.
	StateAwaitingRedirect

	// StateExchangingCode means the authorization code is being exchanged
	// for tokens on the background context.
	StateExchangingCode

	// StateAuthenticated means a live token is held.
	StateAuthenticated

	// StateRefreshing means a refresh-token exchange is in progress.
	StateRefreshing

	// StateExpired means the token expired and cannot be refreshed; the
	// host must start a new flow.
	StateExpired
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFlowStarted:
		return "flow_started"
	case StateAwaitingRedirect:
		return "awaiting_redirect"
	case StateExchangingCode:
		return "exchanging_code"
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshing:
		return "refreshing"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}
