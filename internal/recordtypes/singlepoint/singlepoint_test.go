package singlepoint_test

import (
	"errors"
	"testing"

	"crucible/internal/errs"
	"crucible/internal/recordtypes/singlepoint"
)

func TestBuildRecordNormalizes(t *testing.T) {
	handler := singlepoint.New()
	rec, err := handler.BuildRecord(map[string]any{
		"program":  " Psi4 ",
		"method":   "B3LYP",
		"basis":    "Def2-SVP",
		"molecule": map[string]any{"symbols": []any{"O", "H", "H"}},
		"keywords": map[string]any{"scf_type": "df"},
	})
	if err != nil {
		t.Fatalf("BuildRecord: %v", err)
	}
	if rec.RecordType != singlepoint.TypeName || rec.IsService {
		t.Fatalf("unexpected candidate: %+v", rec)
	}
	if rec.Program != "psi4" {
		t.Fatalf("expected normalized program, got %q", rec.Program)
	}
	if rec.Specification["method"] != "b3lyp" || rec.Specification["basis"] != "def2-svp" {
		t.Fatalf("expected normalized spec, got %+v", rec.Specification)
	}
	if _, ok := rec.Specification["keywords"]; !ok {
		t.Fatal("expected keywords to be carried into the spec")
	}
}

func TestBuildRecordRejectsMissingInputs(t *testing.T) {
	handler := singlepoint.New()
	cases := []map[string]any{
		{"method": "hf", "basis": "sto-3g", "molecule": "m"},
		{"program": "psi4", "basis": "sto-3g", "molecule": "m"},
		{"program": "psi4", "method": "hf", "molecule": "m"},
		{"program": "psi4", "method": "hf", "basis": "sto-3g"},
		{"program": "  ", "method": "hf", "basis": "sto-3g", "molecule": "m"},
	}
	for i, inputs := range cases {
		_, err := handler.BuildRecord(inputs)
		if err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
		if !errors.Is(err, errs.ErrValidation) {
			t.Fatalf("case %d: expected validation classification, got %v", i, err)
		}
	}
}

func TestNoChildren(t *testing.T) {
	children, err := singlepoint.New().Children(nil)
	if err != nil || children != nil {
		t.Fatalf("expected no children, got %v, %v", children, err)
	}
}
