// Package daemon runs the crucible server process: single-instance locking,
// the background sweeps, and the authenticated HTTP API that submitters and
// compute managers talk to.
package daemon
