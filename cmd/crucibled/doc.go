// Command crucibled is the server daemon: it owns the PostgreSQL store, runs
// the background sweeps, and serves the HTTP API for submitters and compute
// managers.
package main
