package contexts

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// TokenGenerator produces the random values written into variants.
type TokenGenerator interface {
	Generate() string
}

// UUIDGenerator generates random UUIDv4 tokens (122 random bits).
//
// Thread-safety: UUIDGenerator is stateless and safe for concurrent use.
type UUIDGenerator struct{}

// Generate returns a new hyphenated UUIDv4 string.
func (UUIDGenerator) Generate() string {
	return uuid.NewString()
}

// SequenceGenerator returns "prefix-1", "prefix-2", ... for deterministic
// tests and golden comparisons.
//
// Thread-safety: SequenceGenerator is safe for concurrent use via internal mutex.
type SequenceGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceGenerator creates a generator whose tokens start at prefix-1.
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	if prefix == "" {
		prefix = "token"
	}
	return &SequenceGenerator{prefix: prefix}
}

// Generate returns the next token in the sequence.
func (g *SequenceGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
