package hashing_test

import (
	"testing"

	"crucible/internal/hashing"
)

func TestContentHashStableUnderKeyOrder(t *testing.T) {
	a := map[string]any{"program": "psi4", "method": "b3lyp", "basis": "def2-svp"}
	b := map[string]any{"basis": "def2-svp", "method": "b3lyp", "program": "psi4"}

	hashA, err := hashing.ContentHash(a, hashing.Options{})
	if err != nil {
		t.Fatalf("ContentHash(a): %v", err)
	}
	hashB, err := hashing.ContentHash(b, hashing.Options{})
	if err != nil {
		t.Fatalf("ContentHash(b): %v", err)
	}
	if hashA != hashB {
		t.Fatalf("expected identical hashes, got %s vs %s", hashA, hashB)
	}
}

func TestContentHashFoldsKeys(t *testing.T) {
	lower, err := hashing.ContentHash(map[string]any{"maxiter": 100}, hashing.Options{})
	if err != nil {
		t.Fatalf("ContentHash: %v", err)
	}
	upper, err := hashing.ContentHash(map[string]any{"MAXITER": 100}, hashing.Options{})
	if err != nil {
		t.Fatalf("ContentHash: %v", err)
	}
	if lower != upper {
		t.Fatal("expected key case folding to normalize hashes")
	}
}

func TestContentHashRoundsFloats(t *testing.T) {
	a := map[string]any{"threshold": 1.00000000000001}
	b := map[string]any{"threshold": 1.00000000000002}
	hashA, err := hashing.ContentHash(a, hashing.Options{})
	if err != nil {
		t.Fatalf("ContentHash: %v", err)
	}
	hashB, err := hashing.ContentHash(b, hashing.Options{})
	if err != nil {
		t.Fatalf("ContentHash: %v", err)
	}
	if hashA != hashB {
		t.Fatal("expected sub-precision float noise to hash identically")
	}

	distinct, err := hashing.ContentHash(map[string]any{"threshold": 1.5}, hashing.Options{})
	if err != nil {
		t.Fatalf("ContentHash: %v", err)
	}
	if distinct == hashA {
		t.Fatal("expected materially different floats to hash differently")
	}
}

func TestContentHashFoldsValuesWhenEnabled(t *testing.T) {
	opts := hashing.Options{FoldCase: true}
	a, err := hashing.ContentHash(map[string]any{"basis": "Def2-SVP"}, opts)
	if err != nil {
		t.Fatalf("ContentHash: %v", err)
	}
	b, err := hashing.ContentHash(map[string]any{"basis": "def2-svp"}, opts)
	if err != nil {
		t.Fatalf("ContentHash: %v", err)
	}
	if a != b {
		t.Fatal("expected folded string values to hash identically")
	}
}

func TestContentHashIntegerIdentity(t *testing.T) {
	// Two identical keyword sets submitted in one batch must resolve to one
	// canonical hash.
	a, err := hashing.ContentHash(map[string]any{"o": 5}, hashing.Options{})
	if err != nil {
		t.Fatalf("ContentHash: %v", err)
	}
	b, err := hashing.ContentHash(map[string]any{"o": 5}, hashing.Options{})
	if err != nil {
		t.Fatalf("ContentHash: %v", err)
	}
	if a != b {
		t.Fatal("expected identical payloads to hash identically")
	}
}

func TestContentHashSignedZeroRounding(t *testing.T) {
	// Both signs of a value below the rounding precision collapse to the
	// same zero, and match an exact integer zero.
	want, err := hashing.ContentHash(map[string]any{"x": 0}, hashing.Options{})
	if err != nil {
		t.Fatalf("ContentHash: %v", err)
	}
	for _, value := range []float64{1e-12, -1e-12, -0.0} {
		got, err := hashing.ContentHash(map[string]any{"x": value}, hashing.Options{})
		if err != nil {
			t.Fatalf("ContentHash(%v): %v", value, err)
		}
		if got != want {
			t.Fatalf("hash of %v diverged from zero", value)
		}
	}
}

func TestCanonicalRejectsFoldCollisions(t *testing.T) {
	if _, err := hashing.Canonical(map[string]any{"Key": 1, "key": 2}, hashing.Options{}); err == nil {
		t.Fatal("expected collision error for keys identical after folding")
	}
}

func TestCanonicalNestedStructures(t *testing.T) {
	type spec struct {
		Program  string         `json:"program"`
		Keywords map[string]any `json:"keywords"`
	}
	a := spec{Program: "psi4", Keywords: map[string]any{"scf_type": "df", "e_convergence": 1e-8}}
	canonical, err := hashing.Canonical(a, hashing.Options{})
	if err != nil {
		t.Fatalf("Canonical: %v", err)
	}
	want := `{"keywords":{"e_convergence":0.00000001,"scf_type":"df"},"program":"psi4"}`
	if string(canonical) != want {
		t.Fatalf("unexpected canonical form: %s", canonical)
	}
}
