package docstore

import (
	"context"
	"fmt"
	"maps"
	"sync"
)

// MemoryTransport is an in-process document tree with watch fan-out. It
// backs tests and the CLI's offline mode. Change notifications for a path
// are delivered to its watchers in write order.
type MemoryTransport struct {
	// Authorize validates the bearer credential of each call. When nil,
	// any non-empty bearer is accepted.
	Authorize func(bearer string) error

	mu       sync.Mutex
	docs     map[string]*Document
	version  int64
	watchers map[string][]*memoryStream
}

// NewMemoryTransport creates an empty in-memory document tree.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{
		docs:     make(map[string]*Document),
		watchers: make(map[string][]*memoryStream),
	}
}

func (m *MemoryTransport) authorize(bearer string) error {
	if m.Authorize != nil {
		return m.Authorize(bearer)
	}
	if bearer == "" {
		return ErrUnauthorized
	}
	return nil
}

func (m *MemoryTransport) Get(ctx context.Context, path, bearer string) (*Document, error) {
	if err := m.authorize(bearer); err != nil {
		return nil, err
	}
	if err := ValidatePath(path); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return cloneDocument(doc), nil
}

func (m *MemoryTransport) Set(ctx context.Context, path string, fields map[string]any, bearer string) (*Document, error) {
	if err := m.authorize(bearer); err != nil {
		return nil, err
	}
	if err := ValidatePath(path); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.version++
	doc := &Document{
		Path:    path,
		Fields:  maps.Clone(fields),
		Version: m.version,
	}
	m.docs[path] = doc
	m.notifyLocked(path, cloneDocument(doc))
	return cloneDocument(doc), nil
}

func (m *MemoryTransport) Delete(ctx context.Context, path, bearer string) error {
	if err := m.authorize(bearer); err != nil {
		return err
	}
	if err := ValidatePath(path); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.docs[path]; !ok {
		return nil
	}
	delete(m.docs, path)
	m.notifyLocked(path, nil)
	return nil
}

func (m *MemoryTransport) Watch(ctx context.Context, path, bearer string) (Stream, error) {
	if err := m.authorize(bearer); err != nil {
		return nil, err
	}
	if err := ValidatePath(path); err != nil {
		return nil, err
	}

	s := &memoryStream{
		transport: m,
		path:      path,
		ctx:       ctx,
		changes:   make(chan *Document, 16),
	}

	m.mu.Lock()
	// Current state first, so a watcher always starts from the latest
	// version before incremental changes.
	if doc, ok := m.docs[path]; ok {
		s.changes <- cloneDocument(doc)
	}
	m.watchers[path] = append(m.watchers[path], s)
	m.mu.Unlock()

	return s, nil
}

// notifyLocked fans a change out to the path's watchers. A nil document
// signals deletion. Watchers that fell too far behind are detached rather
// than blocking writers.
func (m *MemoryTransport) notifyLocked(path string, doc *Document) {
	kept := m.watchers[path][:0]
	for _, s := range m.watchers[path] {
		select {
		case s.changes <- doc:
			kept = append(kept, s)
		default:
			close(s.changes)
		}
	}
	if len(kept) == 0 {
		delete(m.watchers, path)
	} else {
		m.watchers[path] = kept
	}
}

func (m *MemoryTransport) detach(s *memoryStream) {
	m.mu.Lock()
	defer m.mu.Unlock()

	watchers := m.watchers[s.path]
	for i, w := range watchers {
		if w == s {
			m.watchers[s.path] = append(watchers[:i], watchers[i+1:]...)
			break
		}
	}
	if len(m.watchers[s.path]) == 0 {
		delete(m.watchers, s.path)
	}
}

type memoryStream struct {
	transport *MemoryTransport
	path      string
	ctx       context.Context
	changes   chan *Document

	closeOnce sync.Once
}

func (s *memoryStream) Recv() (*Document, error) {
	select {
	case <-s.ctx.Done():
		return nil, s.ctx.Err()
	case doc, ok := <-s.changes:
		if !ok {
			return nil, fmt.Errorf("watch stream for %s overflowed", s.path)
		}
		return doc, nil
	}
}

func (s *memoryStream) Close() error {
	s.closeOnce.Do(func() {
		s.transport.detach(s)
	})
	return nil
}

func cloneDocument(doc *Document) *Document {
	if doc == nil {
		return nil
	}
	return &Document{
		Path:    doc.Path,
		Fields:  maps.Clone(doc.Fields),
		Version: doc.Version,
	}
}
