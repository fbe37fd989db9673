// Package agent is the per-turn control loop. A turn flows through the
// Planner (pending-state checks, slot filling, deterministic routing, model
// planning), the Executor (read tools only), the Gate (staging and resolving
// writes), and the Checker (iteration cap and loop detection). A turn that
// the Checker cannot settle is handed to the fallback lane, which generates
// a small Go program, vets it, and runs it in an interpreter with access
// only to the allowlisted tool wrappers. The Responder renders every reply
// from the store as it stands when the turn ends.
package agent
