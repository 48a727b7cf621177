// Package manybody implements the service-backed record type for a
// fragmentation-based many-body decomposition: one child singlepoint is
// spawned per fragment, and the workflow proceeds to energy summation only
// once every child is terminal.
package manybody

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"crucible/internal/errs"
	"crucible/internal/record"
	"crucible/internal/recordtypes"
	"crucible/internal/recordtypes/singlepoint"
)

// TypeName is the record_type discriminator for many-body expansions.
const TypeName = "manybody"

// stateVersion tags the service_state blob so a different process instance
// can refuse payloads it does not understand after an upgrade.
const stateVersion = 1

const (
	stageSpawn   = "spawn"
	stageCollect = "collect"
)

// serviceState is the persisted workflow state. It is written by one process
// and re-read by another after a restart, so it carries an explicit version.
type serviceState struct {
	Version int    `json:"version"`
	Stage   string `json:"stage"`
	// ChildRecords holds the spawned singlepoint ids, ordered by fragment
	// position, once the spawn stage has run.
	ChildRecords []int64 `json:"child_records,omitempty"`
}

// fragmentResult is the per-child outputs shape this handler expects in a
// completed singlepoint's properties.
type fragmentResult struct {
	ReturnResult float64 `json:"return_result"`
}

// Handler implements the recordtypes service contract for manybody records.
type Handler struct{}

// New returns the manybody handler.
func New() *Handler { return &Handler{} }

// Type returns the discriminator string.
func (*Handler) Type() string { return TypeName }

// IsService reports that manybody records run as multi-step workflows.
func (*Handler) IsService() bool { return true }

// BuildRecord validates submitted inputs and produces a record candidate.
// Required inputs: program, method, basis, fragments (non-empty list).
func (*Handler) BuildRecord(inputs map[string]any) (record.NewRecord, error) {
	spec := make(map[string]any, 4)
	for _, key := range []string{"program", "method", "basis"} {
		raw, ok := inputs[key]
		if !ok {
			return record.NewRecord{}, errs.Validation("manybody: %s is required", key)
		}
		value, ok := raw.(string)
		if !ok || strings.TrimSpace(value) == "" {
			return record.NewRecord{}, errs.Validation("manybody: %s must be a non-empty string", key)
		}
		spec[key] = strings.ToLower(strings.TrimSpace(value))
	}

	fragments, ok := inputs["fragments"].([]any)
	if !ok || len(fragments) == 0 {
		return record.NewRecord{}, errs.Validation("manybody: fragments must be a non-empty list")
	}
	spec["fragments"] = fragments

	return record.NewRecord{
		RecordType:    TypeName,
		IsService:     true,
		Specification: spec,
	}, nil
}

// Children returns the spawned singlepoint ids recorded in the final
// properties, for recursive delete.
func (*Handler) Children(rec *record.Record) ([]int64, error) {
	if rec == nil || len(rec.Properties) == 0 {
		return nil, nil
	}
	var props struct {
		FragmentRecords []int64 `json:"fragment_records"`
	}
	if err := json.Unmarshal(rec.Properties, &props); err != nil {
		return nil, fmt.Errorf("manybody: decode properties of record %d: %w", rec.ID, err)
	}
	return props.FragmentRecords, nil
}

// Initialize produces the first service_state blob.
func (*Handler) Initialize(_ context.Context, rec *record.Record) (json.RawMessage, error) {
	if len(rec.Specification) == 0 {
		return nil, errs.Validation("manybody: record %d has no specification", rec.ID)
	}
	return json.Marshal(serviceState{Version: stateVersion, Stage: stageSpawn})
}

// Iterate advances the workflow: the spawn stage creates one child
// singlepoint per fragment, the collect stage sums child energies once every
// child is terminal.
func (h *Handler) Iterate(ctx context.Context, tx recordtypes.RecordCreator, rec *record.Record, state json.RawMessage, completed []record.CompletedDependency) (recordtypes.IterateResult, error) {
	var current serviceState
	if err := json.Unmarshal(state, &current); err != nil {
		return recordtypes.IterateResult{}, fmt.Errorf("manybody: decode service state: %w", err)
	}
	if current.Version != stateVersion {
		return recordtypes.IterateResult{}, fmt.Errorf("manybody: unsupported service state version %d", current.Version)
	}

	switch current.Stage {
	case stageSpawn:
		return h.spawn(ctx, tx, rec)
	case stageCollect:
		return h.collect(current, completed)
	default:
		return recordtypes.IterateResult{}, fmt.Errorf("manybody: unknown service stage %q", current.Stage)
	}
}

func (h *Handler) spawn(ctx context.Context, tx recordtypes.RecordCreator, rec *record.Record) (recordtypes.IterateResult, error) {
	var spec struct {
		Program   string `json:"program"`
		Method    string `json:"method"`
		Basis     string `json:"basis"`
		Fragments []any  `json:"fragments"`
	}
	if err := json.Unmarshal(rec.Specification, &spec); err != nil {
		return recordtypes.IterateResult{}, fmt.Errorf("manybody: decode specification: %w", err)
	}
	if len(spec.Fragments) == 0 {
		return recordtypes.IterateResult{}, fmt.Errorf("manybody: record %d has no fragments", rec.ID)
	}

	candidates := make([]record.NewRecord, 0, len(spec.Fragments))
	for _, fragment := range spec.Fragments {
		candidates = append(candidates, record.NewRecord{
			RecordType: singlepoint.TypeName,
			OwnerUser:  rec.OwnerUser,
			OwnerGroup: rec.OwnerGroup,
			Specification: map[string]any{
				"program":  spec.Program,
				"method":   spec.Method,
				"basis":    spec.Basis,
				"molecule": fragment,
			},
			Program: spec.Program,
		})
	}

	// Identical fragments dedup onto the same child record; the dependency
	// list still carries one entry per fragment position.
	meta, err := tx.InsertRecords(ctx, candidates, true)
	if err != nil {
		return recordtypes.IterateResult{}, fmt.Errorf("manybody: spawn fragment singlepoints: %w", err)
	}
	if len(meta.ErrorIdx) > 0 {
		return recordtypes.IterateResult{}, fmt.Errorf("manybody: %d fragment inserts failed", len(meta.ErrorIdx))
	}

	deps := make([]record.NewDependency, len(meta.IDs))
	for i, id := range meta.IDs {
		deps[i] = record.NewDependency{
			RecordID: id,
			Position: i,
			Extras:   map[string]any{"fragment": i},
		}
	}

	next, err := json.Marshal(serviceState{Version: stateVersion, Stage: stageCollect, ChildRecords: meta.IDs})
	if err != nil {
		return recordtypes.IterateResult{}, err
	}
	return recordtypes.IterateResult{State: next, NewDependencies: deps}, nil
}

func (h *Handler) collect(current serviceState, completed []record.CompletedDependency) (recordtypes.IterateResult, error) {
	if len(completed) == 0 {
		return recordtypes.IterateResult{}, fmt.Errorf("manybody: collect stage reached with no dependencies")
	}

	total := 0.0
	for _, dep := range completed {
		if dep.Status != record.StatusComplete {
			return recordtypes.IterateResult{}, fmt.Errorf("manybody: fragment record %d finished as %s", dep.RecordID, dep.Status)
		}
		var result fragmentResult
		if err := json.Unmarshal(dep.Properties, &result); err != nil {
			return recordtypes.IterateResult{}, fmt.Errorf("manybody: decode fragment %d outputs: %w", dep.RecordID, err)
		}
		total += result.ReturnResult
	}

	properties, err := json.Marshal(map[string]any{
		"total_energy":     total,
		"n_fragments":      len(completed),
		"fragment_records": current.ChildRecords,
	})
	if err != nil {
		return recordtypes.IterateResult{}, err
	}
	state, err := json.Marshal(serviceState{Version: stateVersion, Stage: stageCollect, ChildRecords: current.ChildRecords})
	if err != nil {
		return recordtypes.IterateResult{}, err
	}
	return recordtypes.IterateResult{Finished: true, State: state, Properties: properties}, nil
}
