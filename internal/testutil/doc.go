// Package testutil provides deterministic clocks and id generators for
// tests that need byte-identical output across runs.
package testutil
