// Package llm adapts large language model providers into the agent's planning
// boundary. Providers only complete prompts; the Planner turns a completion
// into a validated action.Plan and rejects anything that does not match the
// plan schema, so model output never reaches the executor unchecked.
package llm
