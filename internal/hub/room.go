package hub

import "github.com/BioHazard786/roomline/internal/signaling"

// Room is a named call. It exists while it has members or while a client
// that looked it up is still connected.
type Room struct {
	Name         string
	Members      map[string]*Client
	Publications map[string]*signaling.PublicationInfo
	// order keeps publications in the order they were published.
	order []string
	// lookers counts connected clients that resolved the room but have not
	// joined it.
	lookers int
}

func newRoom(name string) *Room {
	return &Room{
		Name:         name,
		Members:      map[string]*Client{},
		Publications: map[string]*signaling.PublicationInfo{},
	}
}

func (r *Room) empty() bool {
	return len(r.Members) == 0 && r.lookers <= 0
}

func (r *Room) publications() []signaling.PublicationInfo {
	out := make([]signaling.PublicationInfo, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.Publications[id])
	}
	return out
}

func (r *Room) addPublication(p *signaling.PublicationInfo) {
	r.Publications[p.ID] = p
	r.order = append(r.order, p.ID)
}

func (r *Room) removePublication(id string) (*signaling.PublicationInfo, bool) {
	p, ok := r.Publications[id]
	if !ok {
		return nil, false
	}
	delete(r.Publications, id)
	for i, pid := range r.order {
		if pid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return p, true
}

func (r *Room) names() map[string]bool {
	taken := make(map[string]bool, len(r.Members))
	for _, m := range r.Members {
		taken[m.name] = true
	}
	return taken
}
