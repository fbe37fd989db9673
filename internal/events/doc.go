// Package events carries action lifecycle events (staged, confirmed,
// cancelled, executed, failed, fallback exhausted) from the agent to
// asynchronous consumers. Queues are pluggable: an in-process channel,
// a Redis list, or a RabbitMQ queue. The Auditor drains a queue into
// the audit log and Prometheus.
package events
