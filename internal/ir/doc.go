// Package ir provides the value model and persisted record types for graffiti.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal. This keeps IR the foundational
// layer with no circular dependencies.
//
// Key design constraints:
//   - Value is a sealed interface: Null, String, Number, Bool, Array, Object
//   - Objects are never mutated after they are stored; use Clone before editing
//   - All ordering uses Document.SequenceID (assigned by the store), never
//     wall-clock timestamps
//   - JSON field names are camelCase and case-preserving
package ir
