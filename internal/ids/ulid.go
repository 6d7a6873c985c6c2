// Package ids generates the 26-character lexicographically sortable
// identifiers ("sortable-ULIDs") used for every internal entity id.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Generator produces monotonically increasing ULIDs even when called
// multiple times within the same millisecond, which matters for the
// Payment id and its two LedgerEntry ids generated inside one
// authorization transaction: spec requires their relative order to fall
// back to insertion order when timestamps tie.
type Generator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewGenerator builds a Generator with a fresh monotonic entropy source.
func NewGenerator() *Generator {
	return &Generator{
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// New returns the next sortable id as a 26-character string.
func (g *Generator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy).String()
}
