package store

import (
	"context"
	"sync"
	"sync/atomic"
)

// MemoryStore keeps the tree in process. It backs tests and the single-user
// --local mode. Listeners are invoked synchronously by the writing goroutine
// once the store lock has been released.
type MemoryStore struct {
	mu        sync.Mutex
	root      map[string]any
	version   uint64
	listeners map[uint64]*memListener
	nextID    uint64
	keys      *keyGen
	closed    bool
}

type memListener struct {
	id        uint64
	path      string
	segs      []string
	fn        Listener
	store     *MemoryStore
	deliverMu sync.Mutex
	started   bool
	delivered uint64
	closed    atomic.Bool
}

type delivery struct {
	l       *memListener
	snap    Snapshot
	version uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		root:      map[string]any{},
		listeners: map[uint64]*memListener{},
		keys:      newKeyGen(),
	}
}

func (s *MemoryStore) NewKey() string { return s.keys.next() }

func (s *MemoryStore) Get(_ context.Context, path string) (Node, error) {
	segs, err := splitNonRoot(path)
	if err != nil {
		return Node{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return nodeOf(s.root, path, segs)
}

func (s *MemoryStore) Set(_ context.Context, path string, v any) error {
	segs, err := splitNonRoot(path)
	if err != nil {
		return err
	}
	w, err := setWrite(segs, v)
	if err != nil {
		return err
	}
	return s.commit([]write{w})
}

func (s *MemoryStore) Update(_ context.Context, path string, fields map[string]any) error {
	base, err := splitPath(path)
	if err != nil {
		return err
	}
	writes, err := updateWrites(base, fields)
	if err != nil {
		return err
	}
	if len(writes) == 0 {
		return nil
	}
	return s.commit(writes)
}

func (s *MemoryStore) Remove(_ context.Context, path string) error {
	segs, err := splitNonRoot(path)
	if err != nil {
		return err
	}
	return s.commit([]write{{segs: segs}})
}

func (s *MemoryStore) Subscribe(_ context.Context, path string, fn Listener) (Handle, error) {
	segs, err := splitNonRoot(path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.nextID++
	l := &memListener{id: s.nextID, path: path, segs: segs, fn: fn, store: s}
	s.listeners[l.id] = l
	snap, err := snapshotOf(s.root, path, segs)
	version := s.version
	s.mu.Unlock()
	if err != nil {
		l.Close()
		return nil, err
	}

	l.deliver(snap, version)
	return l, nil
}

// ListenerCount reports how many live listeners are attached to exactly path.
func (s *MemoryStore) ListenerCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, l := range s.listeners {
		if l.path == path {
			n++
		}
	}
	return n
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, l := range s.listeners {
		l.closed.Store(true)
		delete(s.listeners, id)
	}
	return nil
}

func (s *MemoryStore) commit(writes []write) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	apply(s.root, writes)
	s.version++
	version := s.version

	var pending []delivery
	for _, l := range s.listeners {
		if !touches(l.segs, writes) {
			continue
		}
		snap, err := snapshotOf(s.root, l.path, l.segs)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		pending = append(pending, delivery{l: l, snap: snap, version: version})
	}
	s.mu.Unlock()

	for _, d := range pending {
		d.l.deliver(d.snap, d.version)
	}
	return nil
}

func touches(l []string, writes []write) bool {
	for _, w := range writes {
		if overlaps(l, w.segs) {
			return true
		}
	}
	return false
}

func (l *memListener) deliver(snap Snapshot, version uint64) {
	l.deliverMu.Lock()
	defer l.deliverMu.Unlock()
	if l.closed.Load() || (l.started && version <= l.delivered) {
		return
	}
	l.started = true
	l.delivered = version
	l.fn(snap)
}

func (l *memListener) Close() {
	if l.closed.Swap(true) {
		return
	}
	l.store.mu.Lock()
	delete(l.store.listeners, l.id)
	l.store.mu.Unlock()
}
