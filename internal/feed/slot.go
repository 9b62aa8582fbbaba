package feed

import (
	"context"
	"sync"

	"github.com/BioHazard786/roomline/internal/store"
)

// Slot holds at most one live subscription. Attaching a new path always
// closes the previous handle first, so a slot never has two listeners.
//
// The listener passed to Attach must not call back into the same Slot.
type Slot struct {
	store store.Store

	mu     sync.Mutex
	path   string
	handle store.Handle
}

func NewSlot(s store.Store) *Slot {
	return &Slot{store: s}
}

func (s *Slot) Attach(ctx context.Context, path string, fn store.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.detachLocked()
	h, err := s.store.Subscribe(ctx, path, fn)
	if err != nil {
		return err
	}
	s.path = path
	s.handle = h
	return nil
}

func (s *Slot) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detachLocked()
}

// Path returns the attached path, or "" when detached.
func (s *Slot) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

func (s *Slot) detachLocked() {
	if s.handle != nil {
		s.handle.Close()
	}
	s.handle = nil
	s.path = ""
}
