package docstore

import "errors"

var (
	// ErrNotFound indicates the document does not exist at the given path.
	ErrNotFound = errors.New("document not found")

	// ErrUnauthorized is returned by a transport when the server rejected
	// the bearer credential. The session retries once with a fresher token
	// before surfacing the failure.
	ErrUnauthorized = errors.New("request unauthorized")

	// ErrUnauthenticated indicates a call was attempted with no live token,
	// or no valid token appeared within the reauthorization wait. Calls are
	// never sent unauthenticated.
	ErrUnauthenticated = errors.New("not authenticated")

	// ErrSessionClosed indicates the session was shut down.
	ErrSessionClosed = errors.New("session closed")

	// ErrInvalidPath indicates a document path that is not a non-empty
	// sequence of collection/document segment pairs.
	ErrInvalidPath = errors.New("invalid document path")
)
