package testutil

// FixedGenerator returns the same id every time.
//
// Useful for driving two writes at one object id without threading the
// id through the test. Satisfies contexts.TokenGenerator.
//
// Thread-safety: FixedGenerator is stateless and safe for concurrent use.
type FixedGenerator struct {
	id string
}

// NewFixedGenerator creates a generator that always returns id.
//
// If id is empty, Generate() returns "test-object".
func NewFixedGenerator(id string) *FixedGenerator {
	if id == "" {
		id = "test-object"
	}
	return &FixedGenerator{id: id}
}

// Generate returns the fixed id.
func (g *FixedGenerator) Generate() string {
	return g.id
}
