// Package router implements the deterministic routing policy: pattern based
// detection and slot extraction for the known intents (mail send, calendar
// create, preference update) and the read-only listing requests. Requests it
// does not recognise are left to the LLM planner.
package router
