// Package redis provides the Redis backed primitives the agent runtime shares
// across processes: a per-user turn lock and a response cache keyed by
// idempotency key.
package redis
