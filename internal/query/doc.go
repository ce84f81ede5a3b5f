// Package query compiles client queries into allow-listed predicate trees
// and rewrites them into the visibility predicate evaluated by the broker.
//
// ARCHITECTURE:
//
//	[client JSON query] → Parse → [Expr tree] → Compile → [*Predicate]
//
// Parse rejects every operator outside the allow-list before anything is
// compiled, which bounds the matcher to a decidable subset and prevents
// injection of arbitrary operators:
//
//	comparison:  $eq $ne $gt $gte $lt $lte
//	membership:  $in $nin $all
//	arrays:      $elemMatch $size
//	logical:     $and $or $nor $not
//	element:     $exists $type
//
// SEALED INTERFACES:
//
// Expr and Cond are sealed with marker methods, so Eval can switch over
// every node type exhaustively.
//
// VISIBILITY PREDICATE:
//
// Compile conjoins the client query with the context clause and the access
// clause:
//
//	object matches Q
//	AND (no context rules OR EXISTS cc: NONE(cc.nearMisses match Q) AND ALL(cc.neighbors match Q))
//	AND (author == identity OR identity ∈ _to OR _to is empty)
//
// The first two clauses depend only on the query, so subscriptions sharing a
// query hash share that evaluation; only the access clause is per identity.
//
// AUDIT MODE:
//
// A top-level "_audit": true lets authors find their own objects even when
// context rules hide them from the query. The context clause is skipped only
// for documents the caller wrote, so the flag reveals nothing about other
// authors' objects. Audit predicates hash per identity.
package query
