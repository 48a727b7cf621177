// Package workflow hosts the server's background loops: the periodic service
// sweep that advances multi-step workflows whose dependencies have settled,
// and the manager liveness sweep that recovers tasks from silent managers.
package workflow
