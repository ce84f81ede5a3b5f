// Package contexts compiles an object's context rules into computed
// contexts.
//
// A context rule names the sensitive field paths of an object. For each
// variant group the compiler deep-clones the object and overwrites every
// path in the group with a fresh random token, producing a near-miss or
// neighbor variant. The query rewriter later evaluates client queries
// against these variants: a query that matches a near-miss variant did not
// depend on the sensitive value, so it must not see the object.
//
// Two default rules are compiled for every object, ahead of declared rules:
// a near-miss on "_to" and a near-miss on "_id".
package contexts
