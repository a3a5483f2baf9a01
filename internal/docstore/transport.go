package docstore

import (
	"context"
	"fmt"
	"strings"
)

// Transport is the wire boundary for document operations. Implementations
// must be safe for concurrent use; every call carries the bearer credential
// it was submitted with. Authorization rejections are reported as
// ErrUnauthorized, missing documents as ErrNotFound, and anything else is
// surfaced as-is.
type Transport interface {
	Get(ctx context.Context, path, bearer string) (*Document, error)
	Set(ctx context.Context, path string, fields map[string]any, bearer string) (*Document, error)
	Delete(ctx context.Context, path, bearer string) error

	// Watch opens a change stream for the given path. The stream stays
	// open until the context is cancelled or the server drops it.
	Watch(ctx context.Context, path, bearer string) (Stream, error)
}

// Stream yields change notifications for one watched path, in the order
// the server produced them.
type Stream interface {
	// Recv blocks until the next change, the context given to Watch is
	// cancelled, or the stream ends. A nil document with a nil error
	// signals a deletion of the watched path.
	Recv() (*Document, error)

	// Close releases the stream. Safe to call more than once.
	Close() error
}

// ValidatePath checks that path is a non-empty sequence of
// collection/document segment pairs, e.g. "users/42" or
// "users/42/saves/slot1".
func ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	segments := strings.Split(path, "/")
	if len(segments)%2 != 0 {
		return fmt.Errorf("%w: %q must have an even number of segments", ErrInvalidPath, path)
	}
	for _, seg := range segments {
		if seg == "" {
			return fmt.Errorf("%w: %q contains an empty segment", ErrInvalidPath, path)
		}
	}
	return nil
}
