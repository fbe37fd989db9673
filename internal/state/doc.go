// Package state holds the per-user conversational state that must survive
// across turns and restarts: the session, at most one pending intent, at most
// one pending action, and durable memory (preferences). The Store interface
// is the single source of truth for that state; implementations provide
// compare-and-set semantics on the pending action slot.
package state
