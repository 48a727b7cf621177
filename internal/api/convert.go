package api

import (
	"crucible/internal/record"
	"crucible/internal/storage"
)

// FromRecord converts a stored record into its wire view.
func FromRecord(rec *record.Record) RecordView {
	return RecordView{
		ID:            rec.ID,
		RecordType:    rec.RecordType,
		Status:        string(rec.Status),
		IsService:     rec.IsService,
		OwnerUser:     rec.OwnerUser,
		OwnerGroup:    rec.OwnerGroup,
		ContentHash:   rec.ContentHash,
		Specification: rec.Specification,
		Properties:    rec.Properties,
		CreatedOn:     rec.CreatedOn,
		ModifiedOn:    rec.ModifiedOn,
	}
}

// FromRecords converts a record slice, preserving order.
func FromRecords(recs []*record.Record) []RecordView {
	views := make([]RecordView, len(recs))
	for i, rec := range recs {
		views[i] = FromRecord(rec)
	}
	return views
}

// FromHistory converts compute history entries.
func FromHistory(entries []record.HistoryEntry) []HistoryView {
	views := make([]HistoryView, len(entries))
	for i, entry := range entries {
		views[i] = HistoryView{
			ID:          entry.ID,
			ManagerName: entry.ManagerName,
			Success:     entry.Success,
			Provenance:  entry.Provenance,
			Outputs:     entry.Outputs,
			CreatedOn:   entry.CreatedOn,
		}
	}
	return views
}

// FromOutcomes converts bulk transition outcomes into a response.
func FromOutcomes(outcomes []record.TransitionOutcome) TransitionResponse {
	views := make([]TransitionOutcomeView, len(outcomes))
	for i, outcome := range outcomes {
		views[i] = TransitionOutcomeView{
			RecordID: outcome.RecordID,
			Updated:  outcome.Updated,
			Reason:   outcome.Reason,
		}
	}
	return TransitionResponse{NUpdated: record.Updated(outcomes), Outcomes: views}
}

// FromManagers converts manager rows into wire views.
func FromManagers(managers []storage.Manager) []ManagerView {
	views := make([]ManagerView, len(managers))
	for i, m := range managers {
		views[i] = ManagerView{
			Name:        m.Name,
			Cluster:     m.Cluster,
			Hostname:    m.Hostname,
			Status:      m.Status,
			Programs:    m.Programs,
			ComputeTags: m.ComputeTags,
			Stats:       m.Stats,
			ModifiedOn:  m.ModifiedOn,
		}
	}
	return views
}
