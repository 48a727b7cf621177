package recordtypes

import (
	"context"
	"encoding/json"

	"crucible/internal/record"
)

// RecordCreator is the transactional record-creation surface handed to
// service Iterate hooks. Child records created through it commit or roll back
// together with the service state update that spawned them.
type RecordCreator interface {
	InsertRecords(ctx context.Context, candidates []record.NewRecord, findExisting bool) (record.InsertMeta, error)
}

// IterateResult is what a service Iterate hook returns.
type IterateResult struct {
	// Finished signals workflow completion; the service row is deleted and
	// the record transitions to complete.
	Finished bool
	// State is the next service_state blob, persisted in the same
	// transaction as the iteration.
	State json.RawMessage
	// NewDependencies replace the service's dependency list.
	NewDependencies []record.NewDependency
	// Properties are the record's final outputs; only read when Finished.
	Properties json.RawMessage
}

// Handler is the contract every record type registers with the core.
type Handler interface {
	// Type returns the record_type discriminator string.
	Type() string
	// IsService reports whether records of this type run as multi-step
	// workflows rather than single task executions.
	IsService() bool
	// BuildRecord validates submitted inputs and produces a record candidate
	// for the dedup insert engine.
	BuildRecord(inputs map[string]any) (record.NewRecord, error)
	// Children returns the child record ids a hard delete must cascade to.
	Children(rec *record.Record) ([]int64, error)
}

// ServiceHandler extends Handler with the workflow hooks for service-backed
// record types.
type ServiceHandler interface {
	Handler
	// Initialize produces the first service_state blob. Called once, when
	// the service leaves waiting for its first iteration.
	Initialize(ctx context.Context, rec *record.Record) (json.RawMessage, error)
	// Iterate advances the workflow one step. completed holds every current
	// dependency; all are in a terminal status when the sweep invokes this.
	Iterate(ctx context.Context, tx RecordCreator, rec *record.Record, state json.RawMessage, completed []record.CompletedDependency) (IterateResult, error)
}
