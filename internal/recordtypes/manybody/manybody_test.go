package manybody_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"crucible/internal/errs"
	"crucible/internal/record"
	"crucible/internal/recordtypes/manybody"
	"crucible/internal/recordtypes/singlepoint"
)

type fakeCreator struct {
	candidates []record.NewRecord
	nextID     int64
}

func (f *fakeCreator) InsertRecords(_ context.Context, candidates []record.NewRecord, _ bool) (record.InsertMeta, error) {
	f.candidates = append(f.candidates, candidates...)
	meta := record.InsertMeta{IDs: make([]int64, len(candidates))}
	for i := range candidates {
		f.nextID++
		meta.IDs[i] = f.nextID
		meta.InsertedIdx = append(meta.InsertedIdx, i)
	}
	return meta, nil
}

func waterDimerRecord(t *testing.T) *record.Record {
	t.Helper()
	spec, err := json.Marshal(map[string]any{
		"program": "psi4",
		"method":  "hf",
		"basis":   "sto-3g",
		"fragments": []any{
			map[string]any{"symbols": []any{"O", "H", "H"}},
			map[string]any{"symbols": []any{"O", "H", "H"}},
		},
	})
	if err != nil {
		t.Fatalf("marshal spec: %v", err)
	}
	return &record.Record{
		ID:            42,
		RecordType:    manybody.TypeName,
		IsService:     true,
		OwnerUser:     "ada",
		Specification: spec,
	}
}

func TestBuildRecordValidation(t *testing.T) {
	handler := manybody.New()
	if _, err := handler.BuildRecord(map[string]any{"program": "psi4", "method": "hf", "basis": "sto-3g"}); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected validation error for missing fragments, got %v", err)
	}
	rec, err := handler.BuildRecord(map[string]any{
		"program":   "psi4",
		"method":    "hf",
		"basis":     "sto-3g",
		"fragments": []any{map[string]any{"symbols": []any{"He"}}},
	})
	if err != nil {
		t.Fatalf("BuildRecord: %v", err)
	}
	if !rec.IsService || rec.RecordType != manybody.TypeName {
		t.Fatalf("unexpected candidate: %+v", rec)
	}
}

func TestSpawnStageCreatesFragmentChildren(t *testing.T) {
	handler := manybody.New()
	rec := waterDimerRecord(t)

	state, err := handler.Initialize(context.Background(), rec)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	creator := &fakeCreator{}
	result, err := handler.Iterate(context.Background(), creator, rec, state, nil)
	if err != nil {
		t.Fatalf("Iterate(spawn): %v", err)
	}
	if result.Finished {
		t.Fatal("spawn stage must not finish the workflow")
	}
	if len(result.NewDependencies) != 2 {
		t.Fatalf("expected 2 dependencies, got %d", len(result.NewDependencies))
	}
	for i, dep := range result.NewDependencies {
		if dep.Position != i {
			t.Fatalf("dependency %d has position %d", i, dep.Position)
		}
	}
	for _, candidate := range creator.candidates {
		if candidate.RecordType != singlepoint.TypeName {
			t.Fatalf("expected singlepoint children, got %s", candidate.RecordType)
		}
		if candidate.OwnerUser != "ada" {
			t.Fatalf("expected owner propagation, got %q", candidate.OwnerUser)
		}
	}
}

func TestCollectStageSumsEnergies(t *testing.T) {
	handler := manybody.New()
	rec := waterDimerRecord(t)

	state, err := handler.Initialize(context.Background(), rec)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	creator := &fakeCreator{}
	spawned, err := handler.Iterate(context.Background(), creator, rec, state, nil)
	if err != nil {
		t.Fatalf("Iterate(spawn): %v", err)
	}

	completed := []record.CompletedDependency{
		{RecordID: 1, Status: record.StatusComplete, Position: 0, Properties: json.RawMessage(`{"return_result": -76.02}`)},
		{RecordID: 2, Status: record.StatusComplete, Position: 1, Properties: json.RawMessage(`{"return_result": -76.03}`)},
	}
	result, err := handler.Iterate(context.Background(), creator, rec, spawned.State, completed)
	if err != nil {
		t.Fatalf("Iterate(collect): %v", err)
	}
	if !result.Finished {
		t.Fatal("expected collect stage to finish the workflow")
	}

	var props struct {
		TotalEnergy     float64 `json:"total_energy"`
		NFragments      int     `json:"n_fragments"`
		FragmentRecords []int64 `json:"fragment_records"`
	}
	if err := json.Unmarshal(result.Properties, &props); err != nil {
		t.Fatalf("decode properties: %v", err)
	}
	if props.NFragments != 2 || len(props.FragmentRecords) != 2 {
		t.Fatalf("unexpected properties: %+v", props)
	}
	want := -76.02 + -76.03
	if props.TotalEnergy != want {
		t.Fatalf("expected total %f, got %f", want, props.TotalEnergy)
	}
}

func TestCollectStageFailsOnErroredChild(t *testing.T) {
	handler := manybody.New()
	rec := waterDimerRecord(t)

	state, err := handler.Initialize(context.Background(), rec)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	creator := &fakeCreator{}
	spawned, err := handler.Iterate(context.Background(), creator, rec, state, nil)
	if err != nil {
		t.Fatalf("Iterate(spawn): %v", err)
	}

	completed := []record.CompletedDependency{
		{RecordID: 1, Status: record.StatusComplete, Properties: json.RawMessage(`{"return_result": -76.02}`)},
		{RecordID: 2, Status: record.StatusError, Properties: json.RawMessage(`{}`)},
	}
	if _, err := handler.Iterate(context.Background(), creator, rec, spawned.State, completed); err == nil {
		t.Fatal("expected iteration failure when a child errored")
	}
}

func TestIterateRejectsUnknownStateVersion(t *testing.T) {
	handler := manybody.New()
	rec := waterDimerRecord(t)
	state := json.RawMessage(`{"version": 99, "stage": "spawn"}`)
	if _, err := handler.Iterate(context.Background(), &fakeCreator{}, rec, state, nil); err == nil {
		t.Fatal("expected version rejection")
	}
}

func TestChildrenFromProperties(t *testing.T) {
	handler := manybody.New()
	rec := &record.Record{ID: 7, Properties: json.RawMessage(`{"fragment_records": [3, 4, 5]}`)}
	children, err := handler.Children(rec)
	if err != nil {
		t.Fatalf("Children: %v", err)
	}
	if len(children) != 3 || children[0] != 3 {
		t.Fatalf("unexpected children: %v", children)
	}

	if children, err := handler.Children(&record.Record{}); err != nil || children != nil {
		t.Fatalf("expected no children for empty properties, got %v, %v", children, err)
	}
}
