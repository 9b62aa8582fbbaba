// Package feed mirrors a keyed collection from the store into a list view
// and keeps one row selected across re-renders.
package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/BioHazard786/roomline/internal/prefs"
	"github.com/BioHazard786/roomline/internal/store"
)

var ErrNotStarted = errors.New("feed not started")

// Row is one rendered entry.
type Row struct {
	Key     string
	Title   string
	Current bool
}

// List is a full rendering of the collection. Pending is set when a
// selection is remembered but no row carries that key yet.
type List struct {
	Rows    []Row
	Current string
	Header  string
	Pending bool
}

type item struct {
	Title string `json:"title"`
}

type Option func(*Projector)

// WithRenderer sets the function that receives every rebuilt list.
func WithRenderer(fn func(List)) Option {
	return func(p *Projector) { p.render = fn }
}

// WithOnCurrent is called with the current row after every render that
// contains it and after every Select.
func WithOnCurrent(fn func(Row)) Option {
	return func(p *Projector) { p.onCurrent = fn }
}

// WithOnSelect is called when the user changes the selection (Select or
// Create), before the new selection is rendered.
func WithOnSelect(fn func(prev, next string)) Option {
	return func(p *Projector) { p.onSelect = fn }
}

func WithLogger(l zerolog.Logger) Option {
	return func(p *Projector) { p.log = l }
}

// Projector keeps a List in sync with the children of one store path.
type Projector struct {
	path    string
	store   store.Store
	prefs   prefs.Store
	prefKey string
	slot    *Slot
	log     zerolog.Logger

	render    func(List)
	onCurrent func(Row)
	onSelect  func(prev, next string)

	// emitMu serializes emits; each builds its list while holding it.
	emitMu sync.Mutex

	mu      sync.Mutex
	current string
	rows    []Row
	running bool
}

// New projects the collection at path. The selected key is persisted in
// p under prefKey.
func New(s store.Store, path string, p prefs.Store, prefKey string, opts ...Option) *Projector {
	pr := &Projector{
		path:    path,
		store:   s,
		prefs:   p,
		prefKey: prefKey,
		slot:    NewSlot(s),
		log:     zerolog.Nop(),
	}
	for _, o := range opts {
		o(pr)
	}
	if cur, ok := p.Get(prefKey); ok {
		pr.current = cur
	}
	return pr
}

// Start subscribes to the collection. Calling Start again re-subscribes.
func (p *Projector) Start(ctx context.Context) error {
	p.mu.Lock()
	p.running = true
	p.mu.Unlock()

	if err := p.slot.Attach(ctx, p.path, p.project); err != nil {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
		return fmt.Errorf("subscribe %s: %w", p.path, err)
	}
	return nil
}

// Stop detaches the subscription and clears the rendered rows. The
// remembered selection is kept.
func (p *Projector) Stop() {
	p.slot.Detach()
	p.mu.Lock()
	p.running = false
	p.rows = nil
	p.mu.Unlock()
}

// Current returns the selected key, which may not be rendered yet.
func (p *Projector) Current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *Projector) List() List {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listLocked()
}

// Select makes key current, persists it and re-renders.
func (p *Projector) Select(key string) error {
	if key == "" {
		return nil
	}

	p.mu.Lock()
	prev := p.current
	p.current = key
	p.mu.Unlock()

	if err := p.prefs.Set(p.prefKey, key); err != nil {
		p.log.Warn().Err(err).Str("key", key).Msg("failed to persist selection")
	}
	if prev != key && p.onSelect != nil {
		p.onSelect(prev, key)
	}

	p.emit()
	return nil
}

// Create adds a new entry titled title and selects it. A blank title is
// ignored and yields "".
func (p *Projector) Create(ctx context.Context, title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", nil
	}
	p.mu.Lock()
	running := p.running
	prev := p.current
	p.mu.Unlock()
	if !running {
		return "", ErrNotStarted
	}

	key := p.store.NewKey()

	p.mu.Lock()
	p.current = key
	p.mu.Unlock()
	if err := p.prefs.Set(p.prefKey, key); err != nil {
		p.log.Warn().Err(err).Str("key", key).Msg("failed to persist selection")
	}
	if p.onSelect != nil {
		p.onSelect(prev, key)
	}

	if err := p.store.Set(ctx, store.Join(p.path, key), item{Title: title}); err != nil {
		return "", fmt.Errorf("create %s: %w", p.path, err)
	}
	return key, nil
}

func (p *Projector) project(snap store.Snapshot) {
	rows := make([]Row, 0, snap.Len())
	for _, c := range snap.Children {
		var it item
		if err := c.Decode(&it); err != nil {
			p.log.Warn().Err(err).Str("key", c.Key).Msg("skipping malformed entry")
			continue
		}
		rows = append(rows, Row{Key: c.Key, Title: it.Title})
	}

	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.rows = rows
	p.mu.Unlock()

	p.emit()
}

// emit renders the latest state, so the last emit always reflects the
// latest selection.
func (p *Projector) emit() {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	list := p.listLocked()
	p.mu.Unlock()

	if p.render != nil {
		p.render(list)
	}
	if p.onCurrent == nil {
		return
	}
	for _, r := range list.Rows {
		if r.Current {
			p.onCurrent(r)
			return
		}
	}
}

func (p *Projector) listLocked() List {
	list := List{
		Rows:    make([]Row, len(p.rows)),
		Current: p.current,
	}
	found := false
	for i, r := range p.rows {
		r.Current = r.Key == p.current
		if r.Current {
			list.Header = r.Title
			found = true
		}
		list.Rows[i] = r
	}
	list.Pending = p.current != "" && !found
	return list
}
