package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/graffiti/internal/ir"
)

// createTestStore creates a new temp-dir store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestDocument creates a document with minimal required fields.
func createTestDocument(id, author string, timestamp float64, fields map[string]any) *ir.Document {
	obj := ir.MustObject(fields)
	obj[ir.FieldID] = ir.String(id)
	obj[ir.FieldBy] = ir.String(author)
	obj[ir.FieldTimestamp] = ir.Number(timestamp)
	return &ir.Document{
		ObjectID: id,
		Author:   author,
		Access:   ir.AccessList(obj),
		Object:   obj,
		ComputedContexts: []ir.ComputedContext{
			{NearMisses: []ir.Object{{"x": ir.String("token")}}, Neighbors: []ir.Object{}},
		},
		ContextRules: []ir.ContextRule{{NearMisses: [][]string{{"x"}}}},
	}
}
