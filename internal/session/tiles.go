package session

import "sync"

// Element is one remote stream attached to a tile.
type Element struct {
	PublicationID string
	Kind          Kind
	Paused        bool
	Stream        RemoteStream
}

// Tile groups every element published by one remote member.
type Tile struct {
	MemberID string
	Name     string
	Elements []Element
}

// TileSet multiplexes remote streams onto per-member tiles. A tile exists
// while it has at least one element.
type TileSet struct {
	mu    sync.Mutex
	tiles map[string]*Tile
	order []string
	owner map[string]string // publication id -> member id
}

func NewTileSet() *TileSet {
	return &TileSet{tiles: map[string]*Tile{}, owner: map[string]string{}}
}

// Attach adds el to the member's tile, creating the tile on first use.
// It reports false if the publication is already attached.
func (t *TileSet) Attach(memberID, name string, el Element) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.owner[el.PublicationID]; ok {
		return false
	}
	tile, ok := t.tiles[memberID]
	if !ok {
		tile = &Tile{MemberID: memberID, Name: name}
		t.tiles[memberID] = tile
		t.order = append(t.order, memberID)
	}
	tile.Elements = append(tile.Elements, el)
	t.owner[el.PublicationID] = memberID
	return true
}

// Detach removes the element for publicationID and drops its tile when it
// was the last one.
func (t *TileSet) Detach(publicationID string) (Element, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	memberID, ok := t.owner[publicationID]
	if !ok {
		return Element{}, false
	}
	delete(t.owner, publicationID)

	tile := t.tiles[memberID]
	var el Element
	for i, e := range tile.Elements {
		if e.PublicationID == publicationID {
			el = e
			tile.Elements = append(tile.Elements[:i], tile.Elements[i+1:]...)
			break
		}
	}
	if len(tile.Elements) == 0 {
		delete(t.tiles, memberID)
		for i, id := range t.order {
			if id == memberID {
				t.order = append(t.order[:i], t.order[i+1:]...)
				break
			}
		}
	}
	return el, true
}

func (t *TileSet) SetPaused(publicationID string, paused bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	memberID, ok := t.owner[publicationID]
	if !ok {
		return false
	}
	tile := t.tiles[memberID]
	for i := range tile.Elements {
		if tile.Elements[i].PublicationID == publicationID {
			tile.Elements[i].Paused = paused
			return true
		}
	}
	return false
}

// Clear removes every tile and returns the elements that were attached.
func (t *TileSet) Clear() []Element {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Element
	for _, id := range t.order {
		out = append(out, t.tiles[id].Elements...)
	}
	t.tiles = map[string]*Tile{}
	t.owner = map[string]string{}
	t.order = nil
	return out
}

// Snapshot returns the tiles in creation order.
func (t *TileSet) Snapshot() []Tile {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Tile, 0, len(t.order))
	for _, id := range t.order {
		tile := t.tiles[id]
		out = append(out, Tile{
			MemberID: tile.MemberID,
			Name:     tile.Name,
			Elements: append([]Element(nil), tile.Elements...),
		})
	}
	return out
}

func (t *TileSet) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.order)
}

// Elements counts attached elements across all tiles.
func (t *TileSet) Elements() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.owner)
}
