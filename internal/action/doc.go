// Package action defines the closed set of tool calls the agent can issue:
// typed read arguments, typed write payloads (one variant per action kind),
// normalized tool results and the plan structure shared by the deterministic
// router and the LLM planner. Everything that reaches the executor is
// validated here first.
package action
