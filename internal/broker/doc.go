// Package broker implements the live-query broker.
//
// The broker turns a stream of store changes into per-subscription
// deliveries. Change notifications from any goroutine are coalesced into
// an accumulator; a single Run goroutine swaps the accumulator out and
// performs one matching pass per batch:
//
//	Idle -> Accumulating -> Matching -> Idle
//
// A matching pass loads the affected documents, orders them into insert and
// tombstone events, and evaluates every subscription inside the registry's
// exclusive section. Per subscription the broker tracks which version of
// each object the client holds, so historical replay and live delivery
// never duplicate a version and deletes are sent only for versions the
// client actually received.
//
// Thread-safety model:
//   - Notify(): safe from any goroutine
//   - Subscribe(), Unsubscribe(), Find(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
package broker
