// Package identity resolves who the local user is and announces sign-in and
// sign-out to the rest of the client.
package identity

import (
	"sync"
)

// Identity is a signed-in user.
type Identity struct {
	ID          string
	DisplayName string
	AvatarURL   string
}

// Provider holds the current identity and fans auth state out to watchers.
type Provider struct {
	verifier *Verifier

	mu       sync.Mutex
	current  *Identity
	watchers map[int]func(*Identity)
	nextID   int
}

func NewProvider(v *Verifier) *Provider {
	return &Provider{verifier: v, watchers: map[int]func(*Identity){}}
}

// Current returns the signed-in identity, or nil.
func (p *Provider) Current() *Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil
	}
	id := *p.current
	return &id
}

// SignIn verifies token and makes its identity current.
func (p *Provider) SignIn(token string) (*Identity, error) {
	id, err := p.verifier.Verify(token)
	if err != nil {
		return nil, err
	}
	p.set(id)
	return id, nil
}

func (p *Provider) SignOut() {
	p.set(nil)
}

// OnAuthStateChanged calls fn with the current identity (nil when signed
// out) right away and again after every change. The returned func stops it.
func (p *Provider) OnAuthStateChanged(fn func(*Identity)) (cancel func()) {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.watchers[id] = fn
	cur := p.current
	p.mu.Unlock()

	fn(copyOf(cur))
	return func() {
		p.mu.Lock()
		delete(p.watchers, id)
		p.mu.Unlock()
	}
}

func (p *Provider) set(id *Identity) {
	p.mu.Lock()
	p.current = id
	fns := make([]func(*Identity), 0, len(p.watchers))
	for _, fn := range p.watchers {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(copyOf(id))
	}
}

func copyOf(id *Identity) *Identity {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}
