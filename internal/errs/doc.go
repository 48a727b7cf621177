// Package errs defines the sentinel error taxonomy shared across Crucible.
//
// Callers wrap failures with one of the exported markers so that API handlers
// and bulk operations can classify outcomes with errors.Is without inspecting
// message text. Race conditions resolved by the storage locking discipline are
// never surfaced through this package; they are absorbed internally.
package errs
