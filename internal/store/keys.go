package store

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// keyGen hands out ULIDs. They sort lexically in creation order, which is
// what gives collections their chronological order.
type keyGen struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func newKeyGen() *keyGen {
	return &keyGen{entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (g *keyGen) next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy).String()
}
