// Package registry tracks live connections and their subscriptions.
//
// The registry owns the connection -> query id -> subscription map and a
// reverse index from query hash to subscriptions. A single mutex guards
// both. Every mutation and every matching pass runs inside that exclusive
// section (see Registry.Update), so a removed subscription is never
// evaluated against a later batch and a new subscription is never
// evaluated before its historical replay has finished.
package registry
