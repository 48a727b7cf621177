// Package singlepoint implements the task-backed record type for a single
// external program invocation on one molecule.
package singlepoint

import (
	"strings"

	"crucible/internal/errs"
	"crucible/internal/record"
)

// TypeName is the record_type discriminator for singlepoint calculations.
const TypeName = "singlepoint"

// Handler implements the recordtypes contract for singlepoint records.
type Handler struct{}

// New returns the singlepoint handler.
func New() *Handler { return &Handler{} }

// Type returns the discriminator string.
func (*Handler) Type() string { return TypeName }

// IsService reports that singlepoints run as single task executions.
func (*Handler) IsService() bool { return false }

// BuildRecord validates submitted inputs and produces a record candidate.
// Required inputs: program, method, basis, molecule. Optional: keywords.
func (*Handler) BuildRecord(inputs map[string]any) (record.NewRecord, error) {
	program, err := requiredString(inputs, "program")
	if err != nil {
		return record.NewRecord{}, err
	}
	method, err := requiredString(inputs, "method")
	if err != nil {
		return record.NewRecord{}, err
	}
	basis, err := requiredString(inputs, "basis")
	if err != nil {
		return record.NewRecord{}, err
	}
	molecule, ok := inputs["molecule"]
	if !ok || molecule == nil {
		return record.NewRecord{}, errs.Validation("singlepoint: molecule is required")
	}

	spec := map[string]any{
		"program":  program,
		"method":   method,
		"basis":    basis,
		"molecule": molecule,
	}
	if keywords, ok := inputs["keywords"]; ok && keywords != nil {
		spec["keywords"] = keywords
	}

	return record.NewRecord{
		RecordType:    TypeName,
		IsService:     false,
		Specification: spec,
		Program:       program,
	}, nil
}

// Children returns no ids; singlepoints never spawn child records.
func (*Handler) Children(*record.Record) ([]int64, error) {
	return nil, nil
}

func requiredString(inputs map[string]any, key string) (string, error) {
	raw, ok := inputs[key]
	if !ok {
		return "", errs.Validation("singlepoint: %s is required", key)
	}
	value, ok := raw.(string)
	if !ok || strings.TrimSpace(value) == "" {
		return "", errs.Validation("singlepoint: %s must be a non-empty string", key)
	}
	return strings.ToLower(strings.TrimSpace(value)), nil
}
