// Command crucible is the operator CLI: it talks to a running crucibled over
// the HTTP API to inspect records, drive lifecycle transitions, and watch the
// compute manager pool.
package main
