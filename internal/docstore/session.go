package docstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"firetick/internal/bridge"
)

// ReauthWait bounds how long a rejected call waits for a fresher token
// before failing with ErrUnauthenticated.
const ReauthWait = 5 * time.Second

// tokenView is an immutable snapshot of the session credential. A new view
// supersedes the old one wholesale; the superseded view's channel is closed
// so waiting calls can pick up the replacement.
type tokenView struct {
	bearer     string
	generation uint64
	superseded chan struct{}
}

// Session multiplexes document operations over one authorized logical
// connection. Calls never block the caller: each allocates a handle,
// snapshots the current credential, and runs on the bridge's background
// context, resolving as an event during the next drain.
//
// The credential and the watch table are owned by the host side. Background
// tasks see only the immutable snapshots taken at submission time.
type Session struct {
	transport Transport
	br        *bridge.Bridge

	token      atomic.Pointer[tokenView]
	generation atomic.Uint64
	nextHandle atomic.Int64

	mu      sync.Mutex
	watches map[string]*watchEntry
	closed  bool
}

type watchEntry struct {
	handle Handle
	cancel context.CancelFunc
}

// NewSession creates a session over the given transport. The session holds
// no credential until SetToken is called.
func NewSession(transport Transport, br *bridge.Bridge) *Session {
	s := &Session{
		transport: transport,
		br:        br,
		watches:   make(map[string]*watchEntry),
	}
	s.token.Store(&tokenView{superseded: make(chan struct{})})
	return s
}

// SetToken publishes a new bearer credential. Meant to be called by the
// host side while applying a TokenUpdated event; calls submitted afterwards
// attach the new credential, and calls waiting on a reauthorization retry
// wake up.
func (s *Session) SetToken(bearer string) {
	s.publish(bearer)
}

// ClearToken removes the credential. Subsequent calls fail locally with
// ErrUnauthenticated.
func (s *Session) ClearToken() {
	s.publish("")
}

func (s *Session) publish(bearer string) {
	next := &tokenView{
		bearer:     bearer,
		generation: s.generation.Add(1),
		superseded: make(chan struct{}),
	}
	prev := s.token.Swap(next)
	close(prev.superseded)
}

// Authenticated reports whether the session currently holds a credential.
func (s *Session) Authenticated() bool {
	return s.token.Load().bearer != ""
}

func (s *Session) allocHandle(kind Kind, path string) Handle {
	return Handle{
		ID:   s.nextHandle.Add(1),
		Kind: kind,
		Path: path,
	}
}

// snapshot returns the current credential view, or ErrUnauthenticated when
// no live token exists. Calls are never sent unauthenticated.
func (s *Session) snapshot() (*tokenView, error) {
	view := s.token.Load()
	if view.bearer == "" {
		return nil, ErrUnauthenticated
	}
	return view, nil
}

// Get fetches the document at path. The result arrives as an RPCResult
// event carrying the returned handle.
func (s *Session) Get(path string) (Handle, error) {
	return s.submit(KindGet, path, func(ctx context.Context, bearer string) (*Document, error) {
		return s.transport.Get(ctx, path, bearer)
	})
}

// Set writes fields to the document at path, creating it if absent.
func (s *Session) Set(path string, fields map[string]any) (Handle, error) {
	return s.submit(KindSet, path, func(ctx context.Context, bearer string) (*Document, error) {
		return s.transport.Set(ctx, path, fields, bearer)
	})
}

// Delete removes the document at path. Deleting an absent document is not
// an error.
func (s *Session) Delete(path string) (Handle, error) {
	return s.submit(KindDelete, path, func(ctx context.Context, bearer string) (*Document, error) {
		return nil, s.transport.Delete(ctx, path, bearer)
	})
}

func (s *Session) submit(kind Kind, path string, call func(ctx context.Context, bearer string) (*Document, error)) (Handle, error) {
	if err := ValidatePath(path); err != nil {
		return Handle{}, err
	}
	if s.isClosed() {
		return Handle{}, ErrSessionClosed
	}
	view, err := s.snapshot()
	if err != nil {
		return Handle{}, err
	}

	handle := s.allocHandle(kind, path)
	s.br.Go("docstore."+kind.String(), func(ctx context.Context) {
		doc, err := s.callWithReauth(ctx, view, call)
		if errors.Is(err, context.Canceled) {
			return
		}
		s.br.Post(RPCResult{Handle: handle, Doc: doc, Err: err})
	})
	return handle, nil
}

// callWithReauth runs call with the snapshotted credential. When the server
// rejects the credential, it waits up to ReauthWait for a newer token
// generation and retries exactly once before surfacing the failure as
// ErrUnauthenticated.
func (s *Session) callWithReauth(ctx context.Context, view *tokenView, call func(ctx context.Context, bearer string) (*Document, error)) (*Document, error) {
	doc, err := call(ctx, view.bearer)
	if !errors.Is(err, ErrUnauthorized) {
		return doc, err
	}

	fresh, ok := s.waitNewerToken(ctx, view)
	if !ok {
		return nil, fmt.Errorf("%w: credential rejected and no replacement arrived", ErrUnauthenticated)
	}

	slog.Debug("Retrying rejected call with refreshed credential")
	doc, err = call(ctx, fresh.bearer)
	if errors.Is(err, ErrUnauthorized) {
		return nil, fmt.Errorf("%w: credential rejected twice", ErrUnauthenticated)
	}
	return doc, err
}

// waitNewerToken blocks until a token newer than view is published, the
// wait budget runs out, or ctx is cancelled.
func (s *Session) waitNewerToken(ctx context.Context, view *tokenView) (*tokenView, bool) {
	deadline := time.NewTimer(ReauthWait)
	defer deadline.Stop()

	current := view
	for {
		latest := s.token.Load()
		if latest.generation > view.generation {
			if latest.bearer == "" {
				return nil, false
			}
			return latest, true
		}
		current = latest

		select {
		case <-ctx.Done():
			return nil, false
		case <-deadline.C:
			return nil, false
		case <-current.superseded:
		}
	}
}

// Watch subscribes to changes of the document at path. A path has at most
// one active subscription: re-watching replaces the old one, acknowledging
// its termination with a watch-stop RPCResult before the fresh handle's
// events begin.
func (s *Session) Watch(path string) (Handle, error) {
	if err := ValidatePath(path); err != nil {
		return Handle{}, err
	}
	view, err := s.snapshot()
	if err != nil {
		return Handle{}, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Handle{}, ErrSessionClosed
	}
	if prev, ok := s.watches[path]; ok {
		s.stopLocked(path, prev)
	}

	handle := s.allocHandle(KindWatchStart, path)
	watchCtx, cancel := context.WithCancel(context.Background())
	s.watches[path] = &watchEntry{handle: handle, cancel: cancel}
	s.mu.Unlock()

	s.br.Go("docstore.watch", func(ctx context.Context) {
		defer cancel()
		stop := context.AfterFunc(ctx, cancel)
		defer stop()
		s.runWatch(watchCtx, handle, view)
	})

	slog.Debug("Watch subscription started", "path", path, "handle", handle.ID)
	return handle, nil
}

// Unwatch removes the subscription for path. Absent subscriptions are a
// no-op, not an error.
func (s *Session) Unwatch(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.watches[path]
	if !ok {
		return
	}
	s.stopLocked(path, entry)
}

// stopLocked cancels a subscription's stream task and acknowledges the
// stop under the terminated watch's handle ID, so the host can correlate
// the acknowledgement with the subscription it ends. Events in flight for
// the stopped handle are dropped at dispatch.
func (s *Session) stopLocked(path string, entry *watchEntry) {
	entry.cancel()
	delete(s.watches, path)
	s.br.Post(RPCResult{
		Handle: Handle{ID: entry.handle.ID, Kind: KindWatchStop, Path: path},
	})
	slog.Debug("Watch subscription stopped", "path", path, "handle", entry.handle.ID)
}

// runWatch drives one subscription's stream, posting a DocumentChanged per
// notification until the subscription is cancelled or the stream ends.
func (s *Session) runWatch(ctx context.Context, handle Handle, view *tokenView) {
	stream, err := s.openStream(ctx, handle.Path, view)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.br.Post(StreamDropped{Handle: handle, Path: handle.Path, Err: err})
		return
	}
	defer stream.Close()

	for {
		doc, err := stream.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.br.Post(StreamDropped{Handle: handle, Path: handle.Path, Err: err})
			return
		}
		s.br.Post(DocumentChanged{
			Handle:  handle,
			Path:    handle.Path,
			Doc:     doc,
			Deleted: doc == nil,
		})
	}
}

func (s *Session) openStream(ctx context.Context, path string, view *tokenView) (Stream, error) {
	stream, err := s.transport.Watch(ctx, path, view.bearer)
	if !errors.Is(err, ErrUnauthorized) {
		return stream, err
	}

	fresh, ok := s.waitNewerToken(ctx, view)
	if !ok {
		return nil, fmt.Errorf("%w: credential rejected and no replacement arrived", ErrUnauthenticated)
	}
	return s.transport.Watch(ctx, path, fresh.bearer)
}

// Admit decides during drain whether a stream event still belongs to a
// live subscription. Events tagged with superseded handles are dropped;
// a StreamDropped for the current handle removes the subscription.
func (s *Session) Admit(ev bridge.Event) bool {
	switch e := ev.(type) {
	case DocumentChanged:
		s.mu.Lock()
		defer s.mu.Unlock()
		entry, ok := s.watches[e.Path]
		return ok && entry.handle.ID == e.Handle.ID
	case StreamDropped:
		s.mu.Lock()
		defer s.mu.Unlock()
		entry, ok := s.watches[e.Path]
		if !ok || entry.handle.ID != e.Handle.ID {
			return false
		}
		delete(s.watches, e.Path)
		return true
	default:
		return true
	}
}

// Watches returns the handles of the active subscriptions.
func (s *Session) Watches() []Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	handles := make([]Handle, 0, len(s.watches))
	for _, entry := range s.watches {
		handles = append(handles, entry.handle)
	}
	return handles
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close cancels all subscriptions and rejects further calls. The bridge
// drains the remaining background tasks separately.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for _, entry := range s.watches {
		entry.cancel()
	}
	s.watches = make(map[string]*watchEntry)
}
