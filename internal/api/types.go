package api

import (
	"encoding/json"
	"time"

	"crucible/internal/storage"
)

// RecordView is the wire representation of a record.
type RecordView struct {
	ID            int64           `json:"id"`
	RecordType    string          `json:"record_type"`
	Status        string          `json:"status"`
	IsService     bool            `json:"is_service"`
	OwnerUser     string          `json:"owner_user,omitempty"`
	OwnerGroup    string          `json:"owner_group,omitempty"`
	ContentHash   string          `json:"content_hash"`
	Specification json.RawMessage `json:"specification,omitempty"`
	Properties    json.RawMessage `json:"properties,omitempty"`
	CreatedOn     time.Time       `json:"created_on"`
	ModifiedOn    time.Time       `json:"modified_on"`
}

// HistoryView is one execution attempt of a record.
type HistoryView struct {
	ID          int64           `json:"id"`
	ManagerName string          `json:"manager_name,omitempty"`
	Success     bool            `json:"success"`
	Provenance  json.RawMessage `json:"provenance,omitempty"`
	Outputs     json.RawMessage `json:"outputs,omitempty"`
	CreatedOn   time.Time       `json:"created_on"`
}

// SubmitRequest submits a batch of record candidates of one type.
type SubmitRequest struct {
	RecordType string           `json:"record_type"`
	Entries    []map[string]any `json:"entries"`
	// FindExisting defaults to true; set false to force independent
	// duplicate records.
	FindExisting *bool  `json:"find_existing,omitempty"`
	OwnerUser    string `json:"owner_user,omitempty"`
	OwnerGroup   string `json:"owner_group,omitempty"`
	ComputeTag   string `json:"compute_tag,omitempty"`
	Priority     int    `json:"compute_priority,omitempty"`
}

// SubmitResponse reports per-entry outcomes aligned with the request order.
type SubmitResponse struct {
	IDs       []int64        `json:"ids"`
	NInserted int            `json:"n_inserted"`
	NExisting int            `json:"n_existing"`
	Errors    map[int]string `json:"errors,omitempty"`
}

// TransitionRequest names the records a bulk status change applies to.
type TransitionRequest struct {
	IDs []int64 `json:"ids"`
}

// TransitionOutcomeView is the per-record result of a bulk status change.
type TransitionOutcomeView struct {
	RecordID int64  `json:"record_id"`
	Updated  bool   `json:"updated"`
	Reason   string `json:"reason,omitempty"`
}

// TransitionResponse reports a bulk status change.
type TransitionResponse struct {
	NUpdated int                     `json:"n_updated"`
	Outcomes []TransitionOutcomeView `json:"outcomes"`
}

// ListResponse pages through records.
type ListResponse struct {
	Records []RecordView `json:"records"`
	// Cursor is the id to pass back to fetch the next page; zero when the
	// listing is exhausted.
	Cursor int64 `json:"cursor,omitempty"`
}

// ClaimRequest asks for up to Limit tasks matching the manager's programs.
type ClaimRequest struct {
	Manager  string   `json:"manager"`
	Programs []string `json:"programs"`
	Tags     []string `json:"compute_tags,omitempty"`
	Limit    int      `json:"limit"`
}

// ClaimResponse carries the claimed task payloads.
type ClaimResponse struct {
	Tasks []storage.TaskPayload `json:"tasks"`
}

// ReturnRequest reports finished tasks from a manager.
type ReturnRequest struct {
	Manager string               `json:"manager"`
	Results []storage.TaskResult `json:"results"`
}

// ReturnResponse summarizes which results were applied.
type ReturnResponse struct {
	Accepted int              `json:"accepted"`
	Rejected int              `json:"rejected"`
	Reasons  map[int64]string `json:"reasons,omitempty"`
}

// ActivateResponse returns the derived manager name a worker must use on all
// subsequent calls.
type ActivateResponse struct {
	Name string `json:"name"`
}

// HeartbeatRequest carries a manager's liveness ping and stats snapshot.
type HeartbeatRequest struct {
	Manager string               `json:"manager"`
	Stats   storage.ManagerStats `json:"stats"`
}

// DeactivateRequest retires a manager cleanly.
type DeactivateRequest struct {
	Manager string `json:"manager"`
}

// DeactivateResponse reports how many claimed tasks were requeued.
type DeactivateResponse struct {
	Requeued int `json:"requeued"`
}

// ManagerView is the wire representation of a registered manager.
type ManagerView struct {
	Name        string            `json:"name"`
	Cluster     string            `json:"cluster"`
	Hostname    string            `json:"hostname"`
	Status      string            `json:"status"`
	Programs    map[string]string `json:"programs"`
	ComputeTags []string          `json:"compute_tags,omitempty"`
	Stats       json.RawMessage   `json:"stats,omitempty"`
	ModifiedOn  time.Time         `json:"modified_on"`
}

// ServerStatus is the aggregate view returned by the status endpoint.
type ServerStatus struct {
	RecordCounts   map[string]int64 `json:"record_counts"`
	TasksWaiting   int64            `json:"tasks_waiting"`
	TasksClaimed   int64            `json:"tasks_claimed"`
	ActiveManagers int64            `json:"active_managers"`
	RecordTypes    []string         `json:"record_types"`
}
