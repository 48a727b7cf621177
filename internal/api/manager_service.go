package api

import (
	"context"
	"time"

	"crucible/internal/errs"
	"crucible/internal/metrics"
	"crucible/internal/storage"
)

// ManagerStore abstracts the storage operations the manager service needs.
type ManagerStore interface {
	ActivateManager(ctx context.Context, reg storage.ManagerRegistration) (string, error)
	ManagerHeartbeat(ctx context.Context, name string, stats storage.ManagerStats) error
	DeactivateManager(ctx context.Context, name string) (int, error)
	ListManagers(ctx context.Context, activeOnly bool) ([]storage.Manager, error)
	ClaimTasks(ctx context.Context, managerName string, programs, tags []string, limit int) ([]storage.TaskPayload, error)
	UpdateFinished(ctx context.Context, managerName string, results []storage.TaskResult) (storage.FinishReport, error)
}

// ManagerService exposes the compute manager protocol: activate, heartbeat,
// claim, return, deactivate.
type ManagerService struct {
	store     ManagerStore
	collector *metrics.Collector
}

// NewManagerService constructs a manager service. The collector may be nil.
func NewManagerService(store ManagerStore, collector *metrics.Collector) *ManagerService {
	return &ManagerService{store: store, collector: collector}
}

// Activate registers or reactivates a manager.
func (s *ManagerService) Activate(ctx context.Context, reg storage.ManagerRegistration) (ActivateResponse, error) {
	name, err := s.store.ActivateManager(ctx, reg)
	if err != nil {
		return ActivateResponse{}, err
	}
	return ActivateResponse{Name: name}, nil
}

// Heartbeat records manager liveness.
func (s *ManagerService) Heartbeat(ctx context.Context, req HeartbeatRequest) error {
	if req.Manager == "" {
		return errs.Validation("manager name is required")
	}
	return s.store.ManagerHeartbeat(ctx, req.Manager, req.Stats)
}

// Deactivate retires a manager and requeues its claimed tasks.
func (s *ManagerService) Deactivate(ctx context.Context, req DeactivateRequest) (DeactivateResponse, error) {
	if req.Manager == "" {
		return DeactivateResponse{}, errs.Validation("manager name is required")
	}
	requeued, err := s.store.DeactivateManager(ctx, req.Manager)
	if err != nil {
		return DeactivateResponse{}, err
	}
	return DeactivateResponse{Requeued: requeued}, nil
}

// List returns registered managers.
func (s *ManagerService) List(ctx context.Context, activeOnly bool) ([]ManagerView, error) {
	managers, err := s.store.ListManagers(ctx, activeOnly)
	if err != nil {
		return nil, err
	}
	return FromManagers(managers), nil
}

// Claim hands out waiting tasks to an active manager.
func (s *ManagerService) Claim(ctx context.Context, req ClaimRequest) (ClaimResponse, error) {
	if req.Manager == "" {
		return ClaimResponse{}, errs.Validation("manager name is required")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 1
	}
	start := time.Now()
	tasks, err := s.store.ClaimTasks(ctx, req.Manager, req.Programs, req.Tags, limit)
	if err != nil {
		return ClaimResponse{}, err
	}
	if s.collector != nil && len(tasks) > 0 {
		s.collector.RecordClaimed(len(tasks), time.Since(start).Seconds())
	}
	return ClaimResponse{Tasks: tasks}, nil
}

// Return applies finished task results from a manager.
func (s *ManagerService) Return(ctx context.Context, req ReturnRequest) (ReturnResponse, error) {
	if req.Manager == "" {
		return ReturnResponse{}, errs.Validation("manager name is required")
	}
	if len(req.Results) == 0 {
		return ReturnResponse{}, errs.Validation("results must not be empty")
	}
	report, err := s.store.UpdateFinished(ctx, req.Manager, req.Results)
	if err != nil {
		return ReturnResponse{}, err
	}
	if s.collector != nil {
		s.collector.RecordFinished(report.Accepted, report.Rejected)
	}
	resp := ReturnResponse{Accepted: report.Accepted, Rejected: report.Rejected}
	if len(report.Reasons) > 0 {
		resp.Reasons = report.Reasons
	}
	return resp, nil
}
