// Package idgen generates and recognizes the ULIDs used for event and
// aggregate identifiers.
package idgen

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Generator produces lexicographically sortable ULIDs. IDs from a single
// generator are strictly monotonic even within the same millisecond.
type Generator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	now     func() time.Time
}

// NewGenerator returns a generator seeded from the wall clock.
func NewGenerator() *Generator {
	seed := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Generator{
		entropy: ulid.Monotonic(seed, 0),
		now:     time.Now,
	}
}

// New returns a fresh ULID string.
func (g *Generator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(g.now()), g.entropy)
	if err != nil {
		// Monotonic entropy can only fail on overflow within one
		// millisecond; fall back to a fresh source.
		g.entropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
		id = ulid.MustNew(ulid.Timestamp(g.now()), g.entropy)
	}
	return id.String()
}

// MustGenerateSortableID returns a single ULID from a throwaway source.
// Prefer a shared Generator on hot paths.
func MustGenerateSortableID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	ms := ulid.Timestamp(time.Now())
	id, err := ulid.New(ms, entropy)
	if err != nil {
		panic(err)
	}
	return id.String()
}

// EncodedLen is the length of a ULID in its canonical string form.
const EncodedLen = ulid.EncodedSize

// IsULID reports whether s is a canonical 26-char Crockford base32 ULID.
func IsULID(s string) bool {
	if len(s) != EncodedLen {
		return false
	}
	_, err := ulid.ParseStrict(s)
	return err == nil
}
