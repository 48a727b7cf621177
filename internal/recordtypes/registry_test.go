package recordtypes_test

import (
	"errors"
	"testing"

	"crucible/internal/errs"
	"crucible/internal/recordtypes"
	"crucible/internal/recordtypes/manybody"
	"crucible/internal/recordtypes/singlepoint"
)

func newRegistry() *recordtypes.Registry {
	registry := recordtypes.NewRegistry()
	registry.Register(singlepoint.New())
	registry.Register(manybody.New())
	return registry.Freeze()
}

func TestLookupKnownTypes(t *testing.T) {
	registry := newRegistry()
	for _, name := range []string{singlepoint.TypeName, manybody.TypeName} {
		handler, err := registry.Lookup(name)
		if err != nil {
			t.Fatalf("Lookup(%s): %v", name, err)
		}
		if handler.Type() != name {
			t.Fatalf("expected type %s, got %s", name, handler.Type())
		}
	}
}

func TestLookupUnknownTypeIsMissingData(t *testing.T) {
	registry := newRegistry()
	_, err := registry.Lookup("gridoptimization")
	if err == nil {
		t.Fatal("expected error for unknown type")
	}
	if !errors.Is(err, errs.ErrMissingData) {
		t.Fatalf("expected missing-data classification, got %v", err)
	}
}

func TestServiceResolution(t *testing.T) {
	registry := newRegistry()
	if _, err := registry.Service(manybody.TypeName); err != nil {
		t.Fatalf("Service(manybody): %v", err)
	}
	if _, err := registry.Service(singlepoint.TypeName); err == nil {
		t.Fatal("expected task-backed type to be rejected as service")
	}
}

func TestRegisterAfterFreezePanics(t *testing.T) {
	registry := newRegistry()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on post-freeze registration")
		}
	}()
	registry.Register(singlepoint.New())
}

func TestTypesSorted(t *testing.T) {
	registry := newRegistry()
	types := registry.Types()
	if len(types) != 2 || types[0] != manybody.TypeName || types[1] != singlepoint.TypeName {
		t.Fatalf("unexpected types: %v", types)
	}
}
