// Package storage persists records, tasks, services, and managers in
// PostgreSQL. The database is the single source of truth: concurrent daemon
// instances coordinate purely through row locks, SKIP LOCKED claims, and
// transaction-scoped advisory locks, never through in-memory state.
package storage
