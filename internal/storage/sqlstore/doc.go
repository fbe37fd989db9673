// Package sqlstore persists agent session state in a relational database.
// MySQL is the production target; SQLite (pure Go) serves single-node
// deployments and tests. Both dialects share the same schema, applied from
// embedded, versioned migrations.
package sqlstore
