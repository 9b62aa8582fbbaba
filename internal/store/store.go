// Package store is the client side of the realtime document store that backs
// threads, rooms, messages and likes.
//
// Data is a JSON-shaped tree addressed by slash-separated paths
// ("messages/<thread>/<message>"). Writing null (or an empty object) to a path
// removes it. Listeners always receive the full current snapshot of their
// path, never a diff.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidPath = errors.New("invalid path")
	ErrConflict    = errors.New("too many concurrent writers")
	ErrClosed      = errors.New("store closed")
)

// Increment, used as a value in Update, adds to the number stored at the
// field instead of replacing it. A missing or non-numeric value counts as 0.
type Increment int64

// Toggle, used as a value in Update, negates the boolean at the field and in
// the same write adds 1 to the number at Counter when the flag turns on, or
// subtracts 1 when it turns off. Counter is relative to the Update path.
type Toggle struct {
	Counter string
	// Result, if set, receives the flag's new value.
	Result *bool
}

// Store is implemented by MemoryStore and RedisStore.
type Store interface {
	// NewKey returns a fresh, chronologically ordered child key.
	NewKey() string
	Get(ctx context.Context, path string) (Node, error)
	Set(ctx context.Context, path string, v any) error
	// Update applies every field (a path relative to path) in one atomic write.
	Update(ctx context.Context, path string, fields map[string]any) error
	Remove(ctx context.Context, path string) error
	// Subscribe delivers the current snapshot of path and then a fresh one
	// after every write touching it. Deliveries to one listener are serialized.
	Subscribe(ctx context.Context, path string, fn Listener) (Handle, error)
	Close() error
}

// Listener receives snapshots.
type Listener func(Snapshot)

// Handle detaches a listener. After Close returns the listener is not invoked
// again, except for a delivery that was already running.
type Handle interface {
	Close()
}

// Node is a single value read with Get.
type Node struct {
	Path   string
	Exists bool
	Raw    json.RawMessage
}

func (n Node) Decode(v any) error {
	if !n.Exists {
		return fmt.Errorf("decode %s: no value", n.Path)
	}
	return json.Unmarshal(n.Raw, v)
}

// Child is one entry of a snapshot.
type Child struct {
	Key string
	Raw json.RawMessage
}

func (c Child) Decode(v any) error {
	return json.Unmarshal(c.Raw, v)
}

// Snapshot is the full value at a path, with its children in key order.
type Snapshot struct {
	Path     string
	Raw      json.RawMessage
	Children []Child
}

func (s Snapshot) Exists() bool { return s.Raw != nil }

func (s Snapshot) Len() int { return len(s.Children) }

// Join builds a path from segments.
func Join(segs ...string) string {
	parts := make([]string, 0, len(segs))
	for _, s := range segs {
		if s = strings.Trim(s, "/"); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "/")
}

func splitPath(p string) ([]string, error) {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil, nil
	}
	segs := strings.Split(p, "/")
	for _, s := range segs {
		if s == "" || strings.ContainsAny(s, ".#$[]") {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, p)
		}
	}
	return segs, nil
}

// splitNonRoot is splitPath for operations that cannot address the root.
func splitNonRoot(p string) ([]string, error) {
	segs, err := splitPath(p)
	if err != nil {
		return nil, err
	}
	if len(segs) == 0 {
		return nil, fmt.Errorf("%w: root is not addressable", ErrInvalidPath)
	}
	return segs, nil
}
