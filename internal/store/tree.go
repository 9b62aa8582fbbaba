package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// write is one leaf-level mutation. A nil value removes the path.
type write struct {
	segs  []string
	value any
	incr  *float64

	// flip negates the boolean at segs and reports the new value in result.
	flip   bool
	result *bool
	// follow makes this a counter moved by +1 or -1 by the flag at follow,
	// read before the batch is applied.
	follow []string
}

func (w write) path() string { return strings.Join(w.segs, "/") }

// normalize turns an arbitrary Go value into the generic shape
// encoding/json decodes into, so the tree only ever holds maps, slices,
// strings, float64, bool and nil.
func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("normalize value: %w", err)
	}
	if m, ok := out.(map[string]any); ok && len(m) == 0 {
		return nil, nil
	}
	return out, nil
}

func setWrite(segs []string, v any) (write, error) {
	nv, err := normalize(v)
	if err != nil {
		return write{}, err
	}
	return write{segs: segs, value: nv}, nil
}

func updateWrites(base []string, fields map[string]any) ([]write, error) {
	writes := make([]write, 0, len(fields))
	for field, v := range fields {
		rel, err := splitPath(field)
		if err != nil {
			return nil, err
		}
		segs := append(append([]string{}, base...), rel...)
		if len(segs) == 0 {
			return nil, fmt.Errorf("%w: update field %q addresses the root", ErrInvalidPath, field)
		}
		if t, ok := v.(Toggle); ok {
			counter, err := splitPath(t.Counter)
			if err != nil || len(counter) == 0 {
				return nil, fmt.Errorf("%w: toggle counter %q", ErrInvalidPath, t.Counter)
			}
			counter = append(append([]string{}, base...), counter...)
			writes = append(writes,
				write{segs: segs, flip: true, result: t.Result},
				write{segs: counter, follow: segs},
			)
			continue
		}
		if inc, ok := v.(Increment); ok {
			d := float64(inc)
			writes = append(writes, write{segs: segs, incr: &d})
			continue
		}
		w, err := setWrite(segs, v)
		if err != nil {
			return nil, err
		}
		writes = append(writes, w)
	}
	// Deterministic order so overlapping fields behave the same everywhere.
	sort.Slice(writes, func(i, j int) bool { return writes[i].path() < writes[j].path() })
	return writes, nil
}

func lookup(root map[string]any, segs []string) (any, bool) {
	var cur any = root
	for _, s := range segs {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[s]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func flagged(root map[string]any, segs []string) bool {
	v, _ := lookup(root, segs)
	b, _ := v.(bool)
	return b
}

func apply(root map[string]any, writes []write) {
	prior := make([]bool, len(writes))
	for i, w := range writes {
		switch {
		case w.flip:
			prior[i] = flagged(root, w.segs)
		case w.follow != nil:
			prior[i] = flagged(root, w.follow)
		}
	}

	for i, w := range writes {
		v := w.value
		switch {
		case w.flip:
			next := !prior[i]
			if w.result != nil {
				*w.result = next
			}
			put(root, w.segs, next)
			continue
		case w.follow != nil:
			d := 1.0
			if prior[i] {
				d = -1
			}
			w.incr = &d
		}
		if w.incr != nil {
			var n float64
			if cur, ok := lookup(root, w.segs); ok {
				n, _ = cur.(float64)
			}
			v = n + *w.incr
		}
		put(root, w.segs, v)
	}
}

func put(root map[string]any, segs []string, v any) {
	m := root
	for _, s := range segs[:len(segs)-1] {
		next, ok := m[s].(map[string]any)
		if !ok {
			if v == nil {
				return
			}
			next = map[string]any{}
			m[s] = next
		}
		m = next
	}
	last := segs[len(segs)-1]
	if v != nil {
		m[last] = v
		return
	}
	delete(m, last)
	prune(root, segs[:len(segs)-1])
}

// prune removes empty interior nodes left behind by a delete.
func prune(root map[string]any, segs []string) {
	for len(segs) > 0 {
		n, ok := lookup(root, segs)
		if !ok {
			return
		}
		if m, isMap := n.(map[string]any); !isMap || len(m) > 0 {
			return
		}
		parent, _ := lookup(root, segs[:len(segs)-1])
		delete(parent.(map[string]any), segs[len(segs)-1])
		segs = segs[:len(segs)-1]
	}
}

func snapshotOf(root map[string]any, path string, segs []string) (Snapshot, error) {
	snap := Snapshot{Path: path}
	v, ok := lookup(root, segs)
	if !ok {
		return snap, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return snap, err
	}
	snap.Raw = raw
	m, isMap := v.(map[string]any)
	if !isMap {
		return snap, nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	snap.Children = make([]Child, 0, len(keys))
	for _, k := range keys {
		craw, err := json.Marshal(m[k])
		if err != nil {
			return snap, err
		}
		snap.Children = append(snap.Children, Child{Key: k, Raw: craw})
	}
	return snap, nil
}

func nodeOf(root map[string]any, path string, segs []string) (Node, error) {
	v, ok := lookup(root, segs)
	if !ok {
		return Node{Path: path}, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return Node{Path: path}, err
	}
	return Node{Path: path, Exists: true, Raw: raw}, nil
}

// overlaps reports whether a write at w is visible to a listener at l.
func overlaps(l, w []string) bool {
	n := min(len(l), len(w))
	for i := 0; i < n; i++ {
		if l[i] != w[i] {
			return false
		}
	}
	return true
}
