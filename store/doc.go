// Package store keeps the events and tasks of one calendar or task list.
//
// Items are single or recurring. Occurrences of a recurring item are derived
// from its rule on demand and can be overridden or cancelled one at a time
// through exceptions keyed by recurrence id, the canonical form of the
// occurrence's rule-derived start (see temporal.Value.Canonical):
//
//	20220822           all-day occurrence
//	20220822T083000    floating or zoned occurrence, wall clock
//	20220822T063000Z   UTC occurrence
//
// Edits and deletes of a recurring item take a Range. ThisOnly records an
// exception; ThisAndFuture ends the series just before the addressed
// occurrence and, for edits, continues it as a new item with a new uid.
//
// A Store is safe for concurrent use. Every mutation either applies fully
// or returns an error and leaves the store unchanged.
package store
