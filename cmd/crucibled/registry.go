package main

import (
	"crucible/internal/recordtypes"
	"crucible/internal/recordtypes/manybody"
	"crucible/internal/recordtypes/singlepoint"
)

// newRegistry wires every record type this server build supports. The set is
// fixed at compile time; a type absent here cannot be submitted or iterated.
func newRegistry() *recordtypes.Registry {
	registry := recordtypes.NewRegistry()
	registry.Register(singlepoint.New())
	registry.Register(manybody.New())
	return registry.Freeze()
}
