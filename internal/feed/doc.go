// Package feed carries change notifications from the object writer to the
// broker.
//
// A change is the control message {insertIds, deleteIds}: the sequence ids
// of newly inserted and newly tombstoned document versions. The feed is
// at-least-once; the broker deduplicates within a batch.
//
// Two backends are provided: Memory for a single process, and Redis pub/sub
// for several gateway processes sharing one store.
package feed
