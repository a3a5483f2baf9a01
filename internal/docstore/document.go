// Package docstore multiplexes document operations over one authorized
// logical connection. Get, set, delete and watch calls are submitted through
// the task bridge and resolve as events during the host's per-tick drain;
// the wire protocol sits behind the Transport interface.
package docstore

import "fmt"

// Document is one stored document addressed by a hierarchical path of
// collection/document segments, e.g. "users/42".
type Document struct {
	Path   string
	Fields map[string]any

	// Version is the server update time in unix microseconds. Zero means
	// the server reported no version.
	Version int64
}

// Kind classifies a call for correlation and logging.
type Kind int

const (
	KindGet Kind = iota
	KindSet
	KindDelete
	KindWatchStart
	KindWatchStop
)

func (k Kind) String() string {
	switch k {
	case KindGet:
		return "get"
	case KindSet:
		return "set"
	case KindDelete:
		return "delete"
	case KindWatchStart:
		return "watch_start"
	case KindWatchStop:
		return "watch_stop"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Handle correlates an outbound call with its eventual result event.
// IDs are monotonically increasing and never reused within a session.
type Handle struct {
	ID   int64
	Kind Kind
	Path string
}

// IsZero reports whether the handle was never allocated.
func (h Handle) IsZero() bool {
	return h.ID == 0
}

func (h Handle) String() string {
	return fmt.Sprintf("%s#%d(%s)", h.Kind, h.ID, h.Path)
}
