package api

import (
	"context"

	"crucible/internal/errs"
	"crucible/internal/record"
	"crucible/internal/recordtypes"
	"crucible/internal/storage"
)

// RecordStore abstracts the storage operations the record service needs.
type RecordStore interface {
	InsertRecords(ctx context.Context, candidates []record.NewRecord, findExisting bool) (record.InsertMeta, error)
	GetRecord(ctx context.Context, id int64) (*record.Record, error)
	ListRecords(ctx context.Context, filter storage.RecordFilter) ([]*record.Record, error)
	RecordHistory(ctx context.Context, recordID int64) ([]record.HistoryEntry, error)
	CancelRecords(ctx context.Context, ids []int64) ([]record.TransitionOutcome, error)
	ResetRecords(ctx context.Context, ids []int64) ([]record.TransitionOutcome, error)
	InvalidateRecords(ctx context.Context, ids []int64) ([]record.TransitionOutcome, error)
	DeleteRecords(ctx context.Context, ids []int64) ([]record.TransitionOutcome, error)
	UndeleteRecords(ctx context.Context, ids []int64) ([]record.TransitionOutcome, error)
}

// RecordService exposes record submission, queries, and lifecycle changes as
// API-shaped operations.
type RecordService struct {
	store    RecordStore
	registry *recordtypes.Registry
}

// NewRecordService constructs a record service.
func NewRecordService(store RecordStore, registry *recordtypes.Registry) *RecordService {
	return &RecordService{store: store, registry: registry}
}

// Submit validates each entry through the record type handler and feeds the
// batch to the dedup insert engine. Per-entry validation failures surface in
// the response, never as a request failure.
func (s *RecordService) Submit(ctx context.Context, req SubmitRequest) (SubmitResponse, error) {
	if req.RecordType == "" {
		return SubmitResponse{}, errs.Validation("record_type is required")
	}
	if len(req.Entries) == 0 {
		return SubmitResponse{}, errs.Validation("entries must not be empty")
	}
	handler, err := s.registry.Lookup(req.RecordType)
	if err != nil {
		return SubmitResponse{}, err
	}

	findExisting := true
	if req.FindExisting != nil {
		findExisting = *req.FindExisting
	}

	candidates := make([]record.NewRecord, len(req.Entries))
	buildErrors := make(map[int]string)
	valid := make([]bool, len(req.Entries))
	for i, entry := range req.Entries {
		candidate, err := handler.BuildRecord(entry)
		if err != nil {
			buildErrors[i] = err.Error()
			continue
		}
		candidate.OwnerUser = req.OwnerUser
		candidate.OwnerGroup = req.OwnerGroup
		candidate.ComputeTag = req.ComputeTag
		candidate.Priority = req.Priority
		candidates[i] = candidate
		valid[i] = true
	}

	compact := make([]record.NewRecord, 0, len(candidates))
	positions := make([]int, 0, len(candidates))
	for i, ok := range valid {
		if ok {
			compact = append(compact, candidates[i])
			positions = append(positions, i)
		}
	}

	resp := SubmitResponse{IDs: make([]int64, len(req.Entries))}
	if len(compact) > 0 {
		meta, err := s.store.InsertRecords(ctx, compact, findExisting)
		if err != nil {
			return SubmitResponse{}, err
		}
		for j, pos := range positions {
			resp.IDs[pos] = meta.IDs[j]
		}
		resp.NInserted = meta.NInserted()
		resp.NExisting = meta.NExisting()
		for j, reason := range meta.Errors {
			buildErrors[positions[j]] = reason
		}
	}
	if len(buildErrors) > 0 {
		resp.Errors = buildErrors
	}
	return resp, nil
}

// Get fetches a single record.
func (s *RecordService) Get(ctx context.Context, id int64) (RecordView, error) {
	rec, err := s.store.GetRecord(ctx, id)
	if err != nil {
		return RecordView{}, err
	}
	return FromRecord(rec), nil
}

// List pages through records matching the filter.
func (s *RecordService) List(ctx context.Context, filter storage.RecordFilter) (ListResponse, error) {
	recs, err := s.store.ListRecords(ctx, filter)
	if err != nil {
		return ListResponse{}, err
	}
	resp := ListResponse{Records: FromRecords(recs)}
	if filter.Limit > 0 && len(recs) == filter.Limit {
		resp.Cursor = recs[len(recs)-1].ID
	}
	return resp, nil
}

// History returns a record's compute history after confirming it exists.
func (s *RecordService) History(ctx context.Context, id int64) ([]HistoryView, error) {
	if _, err := s.store.GetRecord(ctx, id); err != nil {
		return nil, err
	}
	entries, err := s.store.RecordHistory(ctx, id)
	if err != nil {
		return nil, err
	}
	return FromHistory(entries), nil
}

// Transition operation names accepted by Transition.
const (
	OpCancel     = "cancel"
	OpReset      = "reset"
	OpInvalidate = "invalidate"
	OpDelete     = "delete"
	OpUndelete   = "undelete"
)

// Transition applies a named bulk status operation.
func (s *RecordService) Transition(ctx context.Context, op string, req TransitionRequest) (TransitionResponse, error) {
	if len(req.IDs) == 0 {
		return TransitionResponse{}, errs.Validation("ids must not be empty")
	}
	var (
		outcomes []record.TransitionOutcome
		err      error
	)
	switch op {
	case OpCancel:
		outcomes, err = s.store.CancelRecords(ctx, req.IDs)
	case OpReset:
		outcomes, err = s.store.ResetRecords(ctx, req.IDs)
	case OpInvalidate:
		outcomes, err = s.store.InvalidateRecords(ctx, req.IDs)
	case OpDelete:
		outcomes, err = s.store.DeleteRecords(ctx, req.IDs)
	case OpUndelete:
		outcomes, err = s.store.UndeleteRecords(ctx, req.IDs)
	default:
		return TransitionResponse{}, errs.Validation("unknown transition operation %q", op)
	}
	if err != nil {
		return TransitionResponse{}, err
	}
	return FromOutcomes(outcomes), nil
}
