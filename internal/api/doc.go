// Package api exposes the assistant over HTTP: submitting messages, answering
// pending confirmations and reading the current session snapshot. Every turn
// response carries the authoritative pending state so clients can re-sync.
package api
