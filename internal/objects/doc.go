// Package objects validates and persists client mutations.
//
// A write flows validate -> context compiler -> store -> change feed. The
// store enforces one live version per object and optimistic replace, so
// two writers racing on the same object cannot both win: the loser gets a
// CONFLICT error and nothing is published for it.
package objects
