package record

import (
	"encoding/json"
	"time"
)

// Record is a unit of trackable scientific work.
type Record struct {
	ID            int64
	RecordType    string
	Status        Status
	IsService     bool
	OwnerUser     string
	OwnerGroup    string
	ContentHash   string
	Specification json.RawMessage
	Properties    json.RawMessage
	CreatedOn     time.Time
	ModifiedOn    time.Time
}

// HistoryEntry is one execution attempt in a record's append-only compute
// history. History persists permanently even after the task or service row
// that produced it is gone.
type HistoryEntry struct {
	ID          int64
	RecordID    int64
	ManagerName string
	Success     bool
	Provenance  json.RawMessage
	Outputs     json.RawMessage
	CreatedOn   time.Time
}

// NewRecord is a record candidate handed to the dedup insert engine.
type NewRecord struct {
	RecordType string
	IsService  bool
	OwnerUser  string
	OwnerGroup string
	// Specification is the payload the content hash is computed over. For
	// task-backed records it is also the spec sent to the claiming manager.
	Specification map[string]any
	// Program is the external program a task-backed record requires.
	Program    string
	ComputeTag string
	Priority   int
}

// InsertMeta reports the outcome of a dedup insert batch. The three index
// slices partition the input positions; IDs is aligned with the input order
// and zero at error positions.
type InsertMeta struct {
	InsertedIdx []int
	ExistingIdx []int
	ErrorIdx    []int
	IDs         []int64
	// Errors maps an input position in ErrorIdx to its reason.
	Errors map[int]string
}

// NInserted returns how many candidates were newly created.
func (m InsertMeta) NInserted() int { return len(m.InsertedIdx) }

// NExisting returns how many candidates matched an existing row.
func (m InsertMeta) NExisting() int { return len(m.ExistingIdx) }

// NewDependency declares a child record a service will await.
type NewDependency struct {
	RecordID int64
	Position int
	Extras   map[string]any
}

// CompletedDependency is a terminal child handed to a service Iterate hook.
type CompletedDependency struct {
	RecordID   int64
	Status     Status
	Position   int
	Extras     json.RawMessage
	Properties json.RawMessage
}

// TransitionOutcome reports the per-record result of a bulk status change.
type TransitionOutcome struct {
	RecordID int64
	Updated  bool
	// Reason explains a rejected transition; empty when Updated is true.
	Reason string
}

// Updated counts the successful outcomes in a bulk transition report.
func Updated(outcomes []TransitionOutcome) int {
	count := 0
	for _, outcome := range outcomes {
		if outcome.Updated {
			count++
		}
	}
	return count
}
