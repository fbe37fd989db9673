// Package tools holds the capability adapters the agent reaches external
// services through: the credential vault, the mail and calendar service
// contracts with in-process implementations, and the Registry that turns an
// allowlisted action.ToolCall into a normalized action.ToolResult.
package tools
